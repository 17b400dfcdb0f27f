package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"nrich-session-guard/internal/app/shell"
	"nrich-session-guard/internal/domain/auth"
	"nrich-session-guard/internal/domain/eventbus"
	"nrich-session-guard/internal/domain/kvstore"
	"nrich-session-guard/internal/domain/presence"
	platformconfig "nrich-session-guard/internal/platform/config"
	platformerrors "nrich-session-guard/internal/platform/errors"
	platformlogging "nrich-session-guard/internal/platform/logging"
	platformobservability "nrich-session-guard/internal/platform/observability"
	platformstorage "nrich-session-guard/internal/platform/storage"
	httptransport "nrich-session-guard/internal/transport/http"
	"nrich-session-guard/internal/transport/ws"
)

const (
	eventWorkers     = 4
	eventQueueSize   = 1024
	shutdownTimeout  = 15 * time.Second
	httpCloseTimeout = 10 * time.Second
)

type stepFn func(context.Context, *appState) error

type initStep struct {
	ID        string
	Title     string
	DependsOn []string
	Kind      platformerrors.Kind
	Execute   stepFn
}

type appState struct {
	config                *platformconfig.Config
	configPath            string
	logger                *platformlogging.Logger
	observabilityShutdown platformobservability.ShutdownFunc
	db                    *gorm.DB

	// service
	tree      presence.Tree
	events    *eventbus.AsyncEventBus
	eventSubs []*eventbus.Subscription
	auditor   *presence.Auditor
	presence  *presence.Service

	// agent
	localBacking kvstore.Store
	cookieJar    kvstore.Store
	shell        *shell.Shell
}

// Run starts the session edge service: the HTTP edge and the presence
// websocket server. It returns after SIGINT/SIGTERM or a server failure.
func Run(ctx context.Context) error {
	state := &appState{}
	steps := InitGraph()
	if err := executeInitSteps(ctx, steps, state); err != nil {
		state.close()
		return err
	}
	defer state.close()

	logger := state.logger
	logBootstrapGraph(steps, logger)

	rootCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	signalCtx, stop := signal.NotifyContext(rootCtx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(signalCtx)
	if err := startServices(state, group, groupCtx); err != nil {
		cancel()
		_ = group.Wait()
		return err
	}
	logger.InfoTag("BOOT", "session edge running")

	return waitForShutdown(groupCtx, cancel, logger, group)
}

func logBootstrapGraph(steps []initStep, logger *platformlogging.Logger) {
	if logger == nil {
		return
	}
	for _, step := range steps {
		if len(step.DependsOn) == 0 {
			logger.DebugTag("BOOT", "step %s: %s", step.ID, step.Title)
			continue
		}
		logger.DebugTag("BOOT", "step %s: %s (after %s)", step.ID, step.Title, strings.Join(step.DependsOn, ", "))
	}
}

func executeInitSteps(ctx context.Context, steps []initStep, state *appState) error {
	if state == nil {
		return platformerrors.New(platformerrors.KindBootstrap, "execute init steps", "nil bootstrap state")
	}

	completed := make(map[string]struct{}, len(steps))
	for _, step := range steps {
		for _, dep := range step.DependsOn {
			if _, ok := completed[dep]; !ok {
				return platformerrors.New(
					platformerrors.KindBootstrap,
					step.ID,
					fmt.Sprintf("dependency %s not satisfied", dep),
				)
			}
		}
		if step.Execute == nil {
			return platformerrors.New(platformerrors.KindBootstrap, step.ID, "missing execute function")
		}
		if err := step.Execute(ctx, state); err != nil {
			var typed *platformerrors.Error
			if errors.As(err, &typed) {
				return err
			}
			kind := step.Kind
			if kind == "" {
				kind = platformerrors.KindBootstrap
			}
			return platformerrors.Wrap(kind, step.ID, "bootstrap step failed", err)
		}
		completed[step.ID] = struct{}{}
	}
	return nil
}

func commonSteps() []initStep {
	return []initStep{
		{
			ID:      "config:load",
			Title:   "Load configuration",
			Kind:    platformerrors.KindConfig,
			Execute: loadConfigStep,
		},
		{
			ID:        "logging:init-provider",
			Title:     "Initialise logging provider",
			DependsOn: []string{"config:load"},
			Kind:      platformerrors.KindBootstrap,
			Execute:   initLoggingStep,
		},
		{
			ID:        "observability:setup-hooks",
			Title:     "Setup observability hooks",
			DependsOn: []string{"logging:init-provider"},
			Kind:      platformerrors.KindBootstrap,
			Execute:   setupObservabilityStep,
		},
	}
}

// InitGraph lists the service's init steps in execution order.
func InitGraph() []initStep {
	return append(commonSteps(),
		initStep{
			ID:        "storage:init-database",
			Title:     "Initialise database",
			DependsOn: []string{"logging:init-provider"},
			Kind:      platformerrors.KindStorage,
			Execute:   initDatabaseStep,
		},
		initStep{
			ID:        "events:init-bus",
			Title:     "Start presence event bus",
			DependsOn: []string{"logging:init-provider"},
			Kind:      platformerrors.KindBootstrap,
			Execute:   initEventBusStep,
		},
		initStep{
			ID:        "presence:init-tree",
			Title:     "Open presence tree",
			DependsOn: []string{"logging:init-provider"},
			Kind:      platformerrors.KindPresence,
			Execute:   initPresenceTreeStep,
		},
		initStep{
			ID:        "presence:init-service",
			Title:     "Initialise presence service",
			DependsOn: []string{"presence:init-tree", "events:init-bus", "storage:init-database"},
			Kind:      platformerrors.KindPresence,
			Execute:   initPresenceServiceStep,
		},
	)
}

// loadConfigStep keeps a config that is already in place, which lets tests
// run the graph against their own settings.
func loadConfigStep(_ context.Context, state *appState) error {
	if state.config != nil {
		return nil
	}
	res, err := platformconfig.NewLoader().Load()
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindConfig, "config:load", "failed to load config", err)
	}
	state.config = res.Config
	state.configPath = res.Path
	if state.configPath == "" {
		state.configPath = "defaults"
	}
	return nil
}

func initLoggingStep(_ context.Context, state *appState) error {
	if state.config == nil {
		return platformerrors.New(platformerrors.KindBootstrap, "logging:init-provider", "config not loaded")
	}
	logger, err := platformlogging.New(platformlogging.Config{
		Level:    state.config.Log.Level,
		Dir:      state.config.Log.Dir,
		Filename: state.config.Log.File,
	})
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindBootstrap, "logging:init-provider", "failed to initialize logging provider", err)
	}
	state.logger = logger
	logger.InfoTag("BOOT", "logging ready [%s] config=%s", state.config.Log.Level, state.configPath)
	return nil
}

func setupObservabilityStep(ctx context.Context, state *appState) error {
	if state.logger == nil || state.config == nil {
		return platformerrors.New(platformerrors.KindBootstrap, "observability:setup-hooks", "config/logger not initialised")
	}
	cfg := platformobservability.Config{
		Enabled: strings.EqualFold(state.config.Log.Level, "debug"),
	}
	shutdown, err := platformobservability.Setup(ctx, cfg, state.logger.Slog())
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindBootstrap, "observability:setup-hooks", "failed to setup observability hooks", err)
	}
	state.observabilityShutdown = shutdown
	return nil
}

func initDatabaseStep(_ context.Context, state *appState) error {
	if !state.config.Storage.Enabled {
		state.logger.InfoTag("STORE", "storage disabled, presence audit off")
		return nil
	}
	if err := platformstorage.InitDatabase(state.config.Storage.DSN); err != nil {
		return platformerrors.Wrap(platformerrors.KindStorage, "storage:init-database", "failed to initialize database", err)
	}
	state.db = platformstorage.GetDB()
	state.logger.InfoTag("STORE", "database ready at %s", state.config.Storage.DSN)
	return nil
}

func initEventBusStep(_ context.Context, state *appState) error {
	bus := eventbus.NewAsyncEventBus(eventWorkers, eventQueueSize)
	bus.Start()
	state.events = bus
	state.eventSubs = eventbus.SetupEventHandlers(bus, state.logger.WithTag("PRESENCE"))
	return nil
}

func initPresenceTreeStep(ctx context.Context, state *appState) error {
	cfg := state.config.Presence
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", "memory":
		state.tree = presence.NewMemoryTree()
	case "redis":
		tree, err := presence.NewRedisTree(ctx, presence.RedisTreeOptions{
			Addr:     cfg.Redis.Addr,
			Username: cfg.Redis.Username,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
		}, state.logger.WithTag("PRESENCE"))
		if err != nil {
			return platformerrors.Wrap(platformerrors.KindPresence, "presence:init-tree", "failed to open redis presence tree", err)
		}
		state.tree = tree
	default:
		return platformerrors.New(platformerrors.KindConfig, "presence:init-tree", "unsupported presence backend "+cfg.Backend)
	}
	state.logger.InfoTag("PRESENCE", "presence tree backend: %s", cfg.Backend)
	return nil
}

func initPresenceServiceStep(_ context.Context, state *appState) error {
	if state.db != nil && state.config.Presence.Audit {
		auditor, err := presence.NewAuditor(state.events, platformstorage.NewPresenceEventRepository(state.db), state.logger.WithTag("STORE"))
		if err != nil {
			return platformerrors.Wrap(platformerrors.KindPresence, "presence:init-service", "failed to start auditor", err)
		}
		state.auditor = auditor
	}
	verifier := auth.NewAuthToken(state.config.Presence.JWTSecret)
	state.presence = presence.NewService(state.tree, verifier, state.events, state.logger.WithTag("PRESENCE"))
	return nil
}

func startServices(state *appState, g *errgroup.Group, groupCtx context.Context) error {
	if state.config.Transport.WebSocket.Enabled {
		if _, err := startPresenceServer(state, g, groupCtx); err != nil {
			return fmt.Errorf("start presence server: %w", err)
		}
	}
	if _, err := startHTTPServer(state, g, groupCtx); err != nil {
		return fmt.Errorf("start http server: %w", err)
	}
	return nil
}

func startPresenceServer(state *appState, g *errgroup.Group, groupCtx context.Context) (*ws.Server, error) {
	cfg := state.config.Transport.WebSocket
	logger := state.logger.WithTag("WS")
	if state.presence == nil {
		return nil, platformerrors.New(platformerrors.KindBootstrap, "ws:start", "presence service not initialised")
	}

	hub := ws.NewHub(logger)
	router := ws.NewRouter(hub, logger, ws.RouterOptions{
		HandshakeTimeout: cfg.HandshakeTimeout,
		Authenticate:     state.presence.Authenticate,
	})
	server := ws.NewServer(ws.ServerConfig{
		Addr:             net.JoinHostPort(cfg.IP, strconv.Itoa(cfg.Port)),
		Path:             cfg.Path,
		HandshakeTimeout: cfg.HandshakeTimeout,
	}, router, hub, logger)
	server.SetHandlerBuilder(ws.NewPresenceHandlerBuilder(state.presence, cfg.PingInterval, logger))

	g.Go(func() error {
		if err := server.Start(groupCtx); err != nil {
			return platformerrors.Wrap(platformerrors.KindTransport, "ws:serve", "presence server stopped", err)
		}
		return nil
	})
	return server, nil
}

func buildHTTPRouter(state *appState) (*httptransport.Router, error) {
	cfg := state.config
	logger := state.logger.WithTag("HTTP")

	router, err := httptransport.Build(httptransport.Options{
		Config:         cfg,
		Logger:         logger,
		AuthMiddleware: httptransport.ServerTokenMiddleware(cfg.Server.Token),
	})
	if err != nil {
		return nil, err
	}

	edge := httptransport.NewEdge(httptransport.EdgeOptions{
		BaseURL:      cfg.Web.BaseURL,
		APIBaseURL:   cfg.Login.APIBaseURL,
		CryptoSecret: cfg.Login.CryptoSecret,
		Timeout:      cfg.Login.Timeout,
		Retries:      cfg.Login.Retries,
		CookieTTL:    time.Duration(cfg.Login.CookieDays) * 24 * time.Hour,
		PreserveKeys: cfg.Session.PreserveKeys,
		StaticDir:    cfg.Web.StaticDir,
		Bus:          state.events,
		Logger:       state.logger.WithTag("LOGIN"),
	})
	edge.WarnDefaultSecret()
	edge.RegisterRoutes(router)

	var events *platformstorage.PresenceEventRepository
	schema := ""
	if state.db != nil {
		events = platformstorage.NewPresenceEventRepository(state.db)
		v, err := platformstorage.CurrentSchema(context.Background(), state.db)
		if err != nil {
			return nil, err
		}
		schema = v
	}
	httptransport.NewPresenceHandler(state.presence, events, state.logger.WithTag("PRESENCE")).
		WithSchema(schema).
		RegisterRoutes(router)

	router.Engine.NoRoute(func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, "/api") {
			httptransport.RespondError(c, http.StatusNotFound, "api not found", nil)
			return
		}
		c.String(http.StatusNotFound, "not found")
	})
	return router, nil
}

func startHTTPServer(state *appState, g *errgroup.Group, groupCtx context.Context) (*http.Server, error) {
	cfg := state.config
	logger := state.logger

	router, err := buildHTTPRouter(state)
	if err != nil {
		return nil, err
	}

	httpServer := &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.IP, strconv.Itoa(cfg.Server.Port)),
		Handler:           router.Engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		logger.InfoTag("HTTP", "edge listening on http://%s", httpServer.Addr)

		go func() {
			<-groupCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), httpCloseTimeout)
			defer cancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				logger.ErrorTag("HTTP", "http shutdown failed: %v", err)
			} else {
				logger.InfoTag("HTTP", "http server stopped")
			}
		}()

		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.ErrorTag("HTTP", "http server failed: %v", err)
			return err
		}
		return nil
	})

	return httpServer, nil
}

func waitForShutdown(
	ctx context.Context,
	cancel context.CancelFunc,
	logger *platformlogging.Logger,
	g *errgroup.Group,
) error {
	<-ctx.Done()
	logger.InfoTag("BOOT", "shutting down: %v", context.Cause(ctx))

	cancel()

	done := make(chan error, 1)
	go func() {
		done <- g.Wait()
	}()

	select {
	case err := <-done:
		if err != nil {
			logger.ErrorTag("BOOT", "shutdown finished with error: %v", err)
			return err
		}
		logger.InfoTag("BOOT", "all services stopped")
	case <-time.After(shutdownTimeout):
		logger.ErrorTag("BOOT", "shutdown timed out")
		return errors.New("shutdown timed out")
	}
	return nil
}

// close releases whatever the init steps opened, in reverse order.
func (s *appState) close() {
	if s.shell != nil {
		s.shell.Close()
	}
	bg := context.Background()
	if s.localBacking != nil {
		_ = s.localBacking.Close(bg)
	}
	if s.cookieJar != nil {
		_ = s.cookieJar.Close(bg)
	}
	if s.presence != nil {
		s.presence.Close(bg)
	}
	if s.auditor != nil {
		s.auditor.Close()
	}
	if s.events != nil {
		for _, sub := range s.eventSubs {
			sub.Close()
		}
		s.events.Stop()
	}
	if s.tree != nil {
		if err := s.tree.Close(); err != nil && s.logger != nil {
			s.logger.WarnTag("PRESENCE", "close presence tree: %v", err)
		}
	}
	if s.db != nil {
		if err := platformstorage.CloseDatabase(); err != nil && s.logger != nil {
			s.logger.WarnTag("STORE", "close database: %v", err)
		}
		s.db = nil
	}
	if s.observabilityShutdown != nil {
		ctx, cancel := context.WithTimeout(bg, 5*time.Second)
		_ = s.observabilityShutdown(ctx)
		cancel()
	}
	if s.logger != nil {
		_ = s.logger.Close()
	}
}
