package daemon

import (
	"context"
	"os"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/EmirPirija/lmx-chat/internal/bus"
	"github.com/EmirPirija/lmx-chat/internal/config"
	"github.com/EmirPirija/lmx-chat/internal/convlist"
	"github.com/EmirPirija/lmx-chat/internal/localapi"
	"github.com/EmirPirija/lmx-chat/internal/lock"
	"github.com/EmirPirija/lmx-chat/internal/logging"
	"github.com/EmirPirija/lmx-chat/internal/market"
	"github.com/EmirPirija/lmx-chat/internal/outbox"
	"github.com/EmirPirija/lmx-chat/internal/presence"
	"github.com/EmirPirija/lmx-chat/internal/seen"
	"github.com/EmirPirija/lmx-chat/internal/session"
	"github.com/EmirPirija/lmx-chat/internal/status"
	"github.com/EmirPirija/lmx-chat/internal/store"
	intsync "github.com/EmirPirija/lmx-chat/internal/sync"
	"github.com/EmirPirija/lmx-chat/internal/thread"
	"github.com/EmirPirija/lmx-chat/internal/ws"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	ListenAddr  string // optional override for testing; empty = use config
}

// Module returns the fx module for the daemon, composing all providers and
// lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideConfig,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideMarketClient,
			provideConvList,
			provideThread,
			providePresence,
			provideSeenTracker,
			provideWSManager,
			provideSyncEngine,
			provideSender,
			provideHandler,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.SessionName), p.SessionName)
}

func provideConfig(logger *zap.Logger) (*config.Config, error) {
	cfg, err := config.Load(session.ConfigPath())
	if os.IsNotExist(err) {
		// First run: no config yet, start unauthenticated with defaults.
		logger.Info("no config file found, using defaults")
		return config.Default(), nil
	}
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.SessionName); err != nil {
		return nil, err
	}
	logger.Info("acquiring session lock", zap.String("session", p.SessionName))
	l, err := lock.Acquire(session.Dir(p.SessionName))
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
	dbPath := session.CacheDBPath(p.SessionName)
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("cache initialized", zap.String("path", dbPath))
	return db, nil
}

func provideMarketClient(cfg *config.Config, logger *zap.Logger) *market.Client {
	return market.New(cfg.APIBaseURL, cfg.AuthToken, logger)
}

func provideConvList(cfg *config.Config, client *market.Client, b *bus.Bus, logger *zap.Logger) *convlist.Reconciler {
	return convlist.New(cfg.UserID, client, b, logger)
}

func provideThread(cfg *config.Config, client *market.Client, b *bus.Bus, logger *zap.Logger) *thread.Reconciler {
	return thread.New(cfg.UserID, client, b, logger)
}

func providePresence(b *bus.Bus, logger *zap.Logger) *presence.Store {
	return presence.New(b, logger)
}

func provideSeenTracker(client *market.Client, list *convlist.Reconciler, b *bus.Bus, logger *zap.Logger) *seen.Tracker {
	return seen.New(client, list, b, logger)
}

func provideWSManager(cfg *config.Config, b *bus.Bus, machine *status.Machine, logger *zap.Logger) *ws.Manager {
	return ws.NewManager(cfg.WSURL, cfg.AuthToken, b, machine, logger)
}

func provideSyncEngine(cfg *config.Config, db *store.DB, b *bus.Bus, list *convlist.Reconciler, th *thread.Reconciler, pr *presence.Store, logger *zap.Logger) *intsync.Engine {
	return intsync.NewEngine(cfg.UserID, db, b, list, th, pr, logger)
}

func provideSender(cfg *config.Config, db *store.DB, client *market.Client, th *thread.Reconciler, b *bus.Bus, logger *zap.Logger) *outbox.Sender {
	return outbox.NewSender(cfg.UserID, db, client, th, b, logger)
}

func provideHandler(list *convlist.Reconciler, th *thread.Reconciler, sn *seen.Tracker, ob *outbox.Sender, client *market.Client, manager *ws.Manager, machine *status.Machine, db *store.DB, logger *zap.Logger) *localapi.Handler {
	return localapi.NewHandler(list, th, sn, ob, client, manager, machine, db, logger)
}

func registerLifecycle(lc fx.Lifecycle, srv *Server, lk *lock.Lock, manager *ws.Manager, engine *intsync.Engine, sender *outbox.Sender, machine *status.Machine, cfg *config.Config, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Start sync engine (subscribes to ws.* bus events).
			engine.Start(context.Background())

			// Start local API server in background.
			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("local API server error", zap.Error(err))
				}
			}()

			// Start outbox sender.
			sender.Start(context.Background())

			if cfg.AuthToken == "" {
				logger.Info("no auth token configured, auth required")
				_ = machine.Transition(status.AuthRequired)
				return nil
			}
			manager.Start(context.Background())
			return nil
		},
		OnStop: func(ctx context.Context) error {
			sender.Stop()
			engine.Stop()
			manager.Stop()
			srv.Stop(ctx)
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
