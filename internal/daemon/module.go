// Package daemon composes the bridge daemon out of its parts with fx.
package daemon

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/vittahq/bridge/internal/bus"
	"github.com/vittahq/bridge/internal/config"
	"github.com/vittahq/bridge/internal/httpapi"
	"github.com/vittahq/bridge/internal/index"
	"github.com/vittahq/bridge/internal/ingest"
	"github.com/vittahq/bridge/internal/lock"
	"github.com/vittahq/bridge/internal/logging"
	"github.com/vittahq/bridge/internal/session"
	"github.com/vittahq/bridge/internal/status"
	"github.com/vittahq/bridge/internal/wa"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	HTTPAddr    string // optional override for testing; empty = use config
}

// Module returns the fx module for the daemon, composing all providers
// and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideConfig,
			provideBus,
			provideStateMachine,
			provideLock,
			provideSessionStore,
			provideIndex,
			provideAdapter,
			provideManager,
			provideControl,
			providePipeline,
			provideAPI,
			provideHub,
			provideServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.SessionName), p.SessionName)
}

func provideConfig(p Params, logger *zap.Logger) (*config.Config, error) {
	cfg, err := config.Load(session.ConfigPath())
	if err != nil {
		return nil, err
	}
	if p.HTTPAddr != "" {
		cfg.HTTPAddr = p.HTTPAddr
	}
	logger.Info("config loaded", zap.String("http_addr", cfg.HTTPAddr))
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

func provideSessionStore(p Params, logger *zap.Logger) *session.Store {
	return session.NewStore(session.Dir(p.SessionName), logger)
}

func provideIndex() *index.Index {
	return index.New()
}

// provideAdapter opens the credential database. A database whatsmeow
// cannot open is treated like a logout: wipe it and open fresh, which
// forces a new pairing flow instead of a crash loop.
func provideAdapter(p Params, store *session.Store, logger *zap.Logger) (*wa.Adapter, error) {
	dbPath := session.CredentialDBPath(p.SessionName)
	adapter, err := wa.NewAdapter(context.Background(), dbPath, logger)
	if err == nil {
		return adapter, nil
	}

	logger.Warn("credential store unusable, starting over", zap.Error(err))
	if err := store.Clear(); err != nil {
		return nil, err
	}
	return wa.NewAdapter(context.Background(), dbPath, logger)
}

func provideManager(adapter *wa.Adapter, machine *status.Machine, b *bus.Bus, store *session.Store, idx *index.Index, logger *zap.Logger) *wa.Manager {
	return wa.NewManager(adapter, machine, b, store, idx, logger)
}

// provideControl exposes the manager under the boundary's interface.
func provideControl(m *wa.Manager) httpapi.Control {
	return m
}

func providePipeline(b *bus.Bus, idx *index.Index, logger *zap.Logger) *ingest.Pipeline {
	return ingest.NewPipeline(b, idx, logger)
}

func provideAPI(ctl httpapi.Control, idx *index.Index, store *session.Store, logger *zap.Logger) *httpapi.API {
	return httpapi.NewAPI(ctl, idx, store, logger)
}

func provideHub(ctl httpapi.Control, b *bus.Bus, logger *zap.Logger) *httpapi.Hub {
	return httpapi.NewHub(ctl, b, logger)
}

func provideServer(cfg *config.Config, api *httpapi.API, hub *httpapi.Hub, logger *zap.Logger) *httpapi.Server {
	return httpapi.NewServer(cfg.HTTPAddr, cfg.CORSOrigins, api, hub, logger)
}

func registerLifecycle(lc fx.Lifecycle, srv *httpapi.Server, lk *lock.Lock, adapter *wa.Adapter, manager *wa.Manager, pipeline *ingest.Pipeline, hub *httpapi.Hub, b *bus.Bus, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Drain wa.* events into the index before any can arrive.
			pipeline.Start()
			hub.Start()

			handler := wa.NewEventHandler(b, manager, logger)
			adapter.SetEventHandler(handler.Handle)

			if err := srv.Start(); err != nil {
				return err
			}

			manager.Run(context.Background())
			return nil
		},
		OnStop: func(ctx context.Context) error {
			manager.Stop()
			if err := srv.Stop(ctx); err != nil {
				logger.Warn("error stopping http server", zap.Error(err))
			}
			hub.Stop()
			pipeline.Stop()
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
