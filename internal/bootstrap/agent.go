package bootstrap

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"nrich-session-guard/internal/app/shell"
	"nrich-session-guard/internal/domain/kvstore"
	"nrich-session-guard/internal/domain/login"
	"nrich-session-guard/internal/domain/session"
	platformerrors "nrich-session-guard/internal/platform/errors"
	platformstorage "nrich-session-guard/internal/platform/storage"
	"nrich-session-guard/internal/transport/ws"
)

const statusInterval = time.Minute

// RunAgent starts the headless session agent and blocks until a signal.
func RunAgent(ctx context.Context) error {
	state := &appState{}
	steps := AgentInitGraph()
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

	if err := state.shell.Start(signalCtx, state.config.Agent.LoginURL); err != nil {
		return platformerrors.Wrap(platformerrors.KindBootstrap, "agent:start", "failed to start shell", err)
	}
	logSnapshot(state, signalCtx)

	group, groupCtx := errgroup.WithContext(signalCtx)
	group.Go(func() error {
		ticker := time.NewTicker(statusInterval)
		defer ticker.Stop()
		for {
			select {
			case <-groupCtx.Done():
				return nil
			case <-ticker.C:
				logSnapshot(state, groupCtx)
			}
		}
	})

	return waitForShutdown(groupCtx, cancel, logger, group)
}

func logSnapshot(state *appState, ctx context.Context) {
	snap := state.shell.Snapshot(ctx)
	where := snap.Path
	if snap.External != "" {
		where = snap.External
	}
	state.logger.InfoTag("AGENT", "at %s role=%q user=%q presence=%q device=%s",
		where, snap.Role, snap.UserID, snap.Tracked, snap.DeviceID)
}

// AgentInitGraph lists the agent's init steps in execution order.
func AgentInitGraph() []initStep {
	return append(commonSteps(),
		initStep{
			ID:        "agent:init-stores",
			Title:     "Open local store and cookie jar",
			DependsOn: []string{"logging:init-provider"},
			Kind:      platformerrors.KindStorage,
			Execute:   initAgentStoresStep,
		},
		initStep{
			ID:        "agent:init-shell",
			Title:     "Wire session shell",
			DependsOn: []string{"agent:init-stores", "observability:setup-hooks"},
			Kind:      platformerrors.KindBootstrap,
			Execute:   initShellStep,
		},
	)
}

func initAgentStoresStep(_ context.Context, state *appState) error {
	cfg := state.config.Store
	driver := strings.ToLower(strings.TrimSpace(cfg.Type))
	storeCfg := kvstore.Config{
		Driver:    driver,
		Namespace: cfg.Namespace,
		Memory:    &kvstore.MemoryConfig{GCInterval: cfg.Cleanup},
	}

	var deps kvstore.Dependencies
	switch driver {
	case kvstore.DriverSQLite, "":
		storeCfg.Driver = kvstore.DriverSQLite
		if err := platformstorage.InitDatabase(state.config.Storage.DSN); err != nil {
			return platformerrors.Wrap(platformerrors.KindStorage, "agent:init-stores", "failed to open local database", err)
		}
		state.db = platformstorage.GetDB()
		deps.SQLiteDB = state.db
	case kvstore.DriverRedis:
		storeCfg.Redis = &kvstore.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Username: cfg.Redis.Username,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
		}
	}

	local, err := kvstore.New(storeCfg, deps)
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindStorage, "agent:init-stores", "failed to create local store", err)
	}
	state.localBacking = local
	state.cookieJar = kvstore.NewMemory(kvstore.Config{Memory: &kvstore.MemoryConfig{GCInterval: cfg.Cleanup}})
	state.logger.InfoTag("STORE", "local store driver: %s", storeCfg.Driver)
	return nil
}

func initShellStep(_ context.Context, state *appState) error {
	cfg := state.config
	if cfg.Agent.PresenceURL == "" {
		return platformerrors.New(platformerrors.KindConfig, "agent:init-shell", "agent.presence_url is required")
	}
	login.CheckSecret(cfg.Login.CryptoSecret, state.logger.WithTag("LOGIN"))

	var prompter session.Prompter = shell.AutoPrompter{Logger: state.logger.WithTag("AGENT")}
	if !cfg.Agent.AutoAcknowledge {
		prompter = &shell.ConsolePrompter{In: os.Stdin, Out: os.Stdout}
	}

	s, err := shell.New(shell.Options{
		Config:  cfg,
		Local:   kvstore.NewShared(state.localBacking).Tab(),
		Cookies: state.cookieJar,
		Dialer: &ws.Dialer{
			URL:              cfg.Agent.PresenceURL,
			HandshakeTimeout: cfg.Transport.WebSocket.HandshakeTimeout,
			Logger:           state.logger.WithTag("WS"),
		},
		Prompter: prompter,
		Logger:   state.logger,
	})
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindBootstrap, "agent:init-shell", "failed to build shell", err)
	}
	state.shell = s
	return nil
}
