// Package shell is the agent's composition root. A Shell stands in for one
// mounted dashboard: it owns the stores of a browser profile, the per-shell
// event bus, and every session component that runs for the app's lifetime.
package shell

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"time"

	"nrich-session-guard/internal/domain/device"
	"nrich-session-guard/internal/domain/eventbus"
	"nrich-session-guard/internal/domain/kvstore"
	"nrich-session-guard/internal/domain/login"
	"nrich-session-guard/internal/domain/presence"
	"nrich-session-guard/internal/domain/routeguard"
	"nrich-session-guard/internal/domain/session"
	"nrich-session-guard/internal/platform/config"
	"nrich-session-guard/internal/platform/logging"
	"nrich-session-guard/internal/transport/apiclient"
)

// decoderPoll applies only when a store cannot be watched.
const decoderPoll = 2 * time.Second

// Options wires a Shell. Local and Cookies are wrapped in an observable tab
// unless they already are one.
type Options struct {
	Config   *config.Config
	Local    kvstore.Store
	Cookies  kvstore.Store
	Dialer   presence.Dialer
	API      *apiclient.Client
	Prompter session.Prompter
	Logger   *logging.Logger
}

// Shell runs the session components for one profile.
type Shell struct {
	cfg    *config.Config
	logger logging.Leveled

	bus      eventbus.Bus
	local    *kvstore.Tab
	cookies  *kvstore.Tab
	tokens   *session.TokenStore
	devices  *device.Provider
	api      *apiclient.Client
	decoder  *session.Decoder
	tracker  *session.Tracker
	guard    *presence.Guard
	routes   *routeguard.Guard
	login    *login.Handler
	notifier *session.Notifier
	nav      *Navigator

	activateMu sync.Mutex

	mu        sync.Mutex
	ctx       context.Context
	cancel    context.CancelFunc
	stops     []func()
	lastLogin login.Result
	wg        sync.WaitGroup
	closed    bool
}

// New builds a shell. Nothing runs until Start.
func New(opts Options) (*Shell, error) {
	if opts.Config == nil {
		return nil, errors.New("shell: config is required")
	}
	if opts.Local == nil || opts.Cookies == nil {
		return nil, errors.New("shell: local store and cookie jar are required")
	}
	if opts.Dialer == nil {
		return nil, errors.New("shell: presence dialer is required")
	}
	cfg := opts.Config
	log := opts.Logger

	s := &Shell{
		cfg:     cfg,
		logger:  log.WithTag("AGENT"),
		bus:     eventbus.New(),
		local:   observe(opts.Local),
		cookies: observe(opts.Cookies),
	}
	cookieTTL := time.Duration(cfg.Login.CookieDays) * 24 * time.Hour
	s.tokens = session.NewTokenStore(s.local, s.cookies, cookieTTL)
	s.devices = device.NewProvider(s.local, log.WithTag("STORE"))

	s.api = opts.API
	if s.api == nil {
		s.api = apiclient.New(apiclient.Options{
			BaseURL: cfg.Login.APIBaseURL,
			Timeout: cfg.Login.Timeout,
			Retries: cfg.Login.Retries,
			Tokens:  s.tokens,
			Logger:  log.WithTag("HTTP"),
		})
	}

	prompter := opts.Prompter
	if prompter == nil {
		prompter = AutoPrompter{Logger: s.logger}
	}

	s.routes = routeguard.NewGuard(s.tokens, cfg.Web.BaseURL, log.WithTag("GUARD"))
	s.nav = NewNavigator(s.routes, log.WithTag("GUARD"))
	s.decoder = session.NewDecoder(s.tokens, log.WithTag("SESSION"), decoderPoll)
	s.tracker = session.NewTracker(s.tokens, s.bus, log.WithTag("SESSION"))
	s.guard = presence.NewGuard(presence.GuardOptions{
		Dialer:  opts.Dialer,
		Devices: s.devices,
		Tokens:  s.tokens,
		Bus:     s.bus,
		Lookup:  s.api,
		Nav:     s.nav,
		Logger:  log.WithTag("PRESENCE"),
	})
	s.login = login.NewHandler(login.Options{
		Secret:    cfg.Login.CryptoSecret,
		Exchanger: s.api,
		Tokens:    s.tokens,
		Bus:       s.bus,
		Logger:    log.WithTag("LOGIN"),
	})
	logout := session.NewLogout(s.tokens, cfg.Web.BaseURL, cfg.Session.PreserveKeys, log.WithTag("SESSION"))
	s.notifier = session.NewNotifier(s.tokens, logout, s.bus, prompter, s.nav, log.WithTag("SESSION"))
	return s, nil
}

func observe(store kvstore.Store) *kvstore.Tab {
	if tab, ok := store.(*kvstore.Tab); ok {
		return tab
	}
	return kvstore.NewObservable(store)
}

// Start mounts the shell: it starts the session components, runs the login
// handler for loginURL when it carries an id, and opens the first page.
func (s *Shell) Start(ctx context.Context, loginURL string) error {
	s.mu.Lock()
	if s.ctx != nil {
		s.mu.Unlock()
		return errors.New("shell: already started")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	runCtx := s.ctx
	s.mu.Unlock()

	s.nav.bind(runCtx, s.reload)
	s.tracker.OnChange(s.track)

	s.addStop(s.decoder.Start(runCtx))
	stopTracker, err := s.tracker.Start(runCtx)
	if err != nil {
		s.Close()
		return err
	}
	s.addStop(stopTracker)
	stopNotifier, err := s.notifier.Start(runCtx)
	if err != nil {
		s.Close()
		return err
	}
	s.addStop(stopNotifier)

	s.enter(runCtx, loginURL)
	return nil
}

func (s *Shell) addStop(fn func()) {
	s.mu.Lock()
	s.stops = append(s.stops, fn)
	s.mu.Unlock()
}

func (s *Shell) enter(ctx context.Context, loginURL string) {
	start := s.cfg.Agent.StartPath
	routeData := ""

	if loginURL != "" {
		u, err := url.Parse(loginURL)
		if err != nil {
			s.logger.Warn("ignoring malformed login url: %v", err)
		} else {
			params := login.ParamsFromQuery(u.Query())
			routeData = params.RouteData
			res := s.login.Handle(ctx, params)
			s.mu.Lock()
			s.lastLogin = res
			s.mu.Unlock()

			switch res.Outcome {
			case login.OutcomeRedirect:
				s.nav.Replace(res.Redirect)
				return
			case login.OutcomeAccessDenied:
				if res.Notice != nil {
					s.logger.Warn("%s: %s", res.Notice.Title, res.Notice.Message)
				}
			case login.OutcomeFailed:
				s.logger.Error("%s", res.Alert)
			}
			if u.Path != "" {
				start = u.Path
			}
		}
	}

	if start == "" || start == "/" {
		if !s.tokens.HasToken(ctx) {
			s.nav.Replace("/")
			return
		}
		start = login.HomeTarget(ctx, s.tokens, routeData)
	}
	s.nav.Replace(start)
}

// track follows the tracker: a resolved or pending uid (re)activates the
// presence guard, "" releases it.
func (s *Shell) track(uid string) {
	s.activateMu.Lock()
	defer s.activateMu.Unlock()

	if uid == "" {
		s.guard.Release()
		return
	}
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if err := s.guard.Activate(ctx, uid); err != nil {
		s.logger.Warn("presence guard inactive: %v", err)
	}
}

// reload re-mounts in place: the token is decoded again, the guard
// re-announces this device and the current page is re-checked.
func (s *Shell) reload() {
	s.mu.Lock()
	if s.closed || s.ctx == nil {
		s.mu.Unlock()
		return
	}
	ctx := s.ctx
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		s.decoder.Refresh(ctx)
		if uid := s.tracker.UserID(); uid != "" {
			s.track(uid)
		}
		if path := s.nav.Path(); path != "" {
			s.nav.Replace(path)
		}
	}()
}

// Close stops every component. The presence channel is dropped without
// cancelling the disconnect hook, so the server marks the user offline.
func (s *Shell) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	stops := s.stops
	s.stops = nil
	cancel := s.cancel
	s.mu.Unlock()

	// Cancel first so a notice still waiting on the user gives up.
	if cancel != nil {
		cancel()
	}
	for i := len(stops) - 1; i >= 0; i-- {
		stops[i]()
	}
	s.wg.Wait()
	if err := s.guard.Close(); err != nil {
		s.logger.Debug("close presence channel: %v", err)
	}
	bg := context.Background()
	_ = s.local.Close(bg)
	_ = s.cookies.Close(bg)
}

// Snapshot is a point-in-time view of the shell for logs and tests.
type Snapshot struct {
	Path      string
	External  string
	Decision  routeguard.Decision
	UserID    string
	Role      string
	Tracked   string
	DeviceID  string
	Anonymous bool
	Reloads   int
	Login     login.Result
}

// Snapshot collects the current state.
func (s *Shell) Snapshot(ctx context.Context) Snapshot {
	s.mu.Lock()
	last := s.lastLogin
	s.mu.Unlock()

	state := s.decoder.State()
	return Snapshot{
		Path:      s.nav.Path(),
		External:  s.nav.External(),
		Decision:  s.routes.Current(),
		UserID:    s.tracker.UserID(),
		Role:      s.tokens.Role(ctx),
		Tracked:   s.guard.Active(),
		DeviceID:  kvstore.GetString(ctx, s.local, device.StorageKey),
		Anonymous: state.Anonymous(),
		Reloads:   s.nav.Reloads(),
		Login:     last,
	}
}

// Navigate opens path as if the user followed an in-app link.
func (s *Shell) Navigate(path string) { s.nav.Replace(path) }

// Navigator exposes the shell's navigator.
func (s *Shell) Navigator() *Navigator { return s.nav }

// Bus is the shell's event bus.
func (s *Shell) Bus() eventbus.Bus { return s.bus }

// Tokens is the shell's token store.
func (s *Shell) Tokens() *session.TokenStore { return s.tokens }
