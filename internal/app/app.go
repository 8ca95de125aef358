package app

import (
	"context"
	"fmt"
	"time"

	domainagg "github.com/yungbote/clinical-mdr/internal/domain/aggregates"
	mdrhttp "github.com/yungbote/clinical-mdr/internal/http"
	httpH "github.com/yungbote/clinical-mdr/internal/http/handlers"
	"github.com/yungbote/clinical-mdr/internal/observability"
	"github.com/yungbote/clinical-mdr/internal/platform/logger"
)

type App struct {
	Log      *logger.Logger
	Cfg      Config
	Metrics  *observability.Metrics
	Storage  *chainStorage
	Clients  Clients
	Services Services
	Server   *mdrhttp.Server

	otelShutdown func(context.Context) error
	cancel       context.CancelFunc
}

func New(ctx context.Context) (*App, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	log, err := logger.New(cfg.LogMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	otelShutdown := observability.InitOTel(ctx, log, observability.OtelConfig{ServiceName: cfg.ServiceName})
	metrics := observability.Init(log)

	storage, err := resolveChainStore(ctx, log, cfg)
	if err != nil {
		log.Sync()
		return nil, err
	}
	clients, err := wireClients(log, cfg)
	if err != nil {
		_ = storage.Close(ctx)
		log.Sync()
		return nil, err
	}

	serviceset := wireServices(log, cfg, storage.Store, clients, metrics)

	checks := map[string]httpH.Pinger{"storage": storage.Ping}
	if p := clients.pinger(); p != nil {
		checks["redis"] = p
	}
	server := mdrhttp.NewServer(mdrhttp.RouterConfig{
		Log:           log,
		Metrics:       metrics,
		ServiceName:   cfg.ServiceName,
		CORSOrigins:   cfg.CORSOrigins,
		HealthHandler: httpH.NewHealthHandler(checks),
		Families:      serviceset.familyRoutes(),
	})

	return &App{
		Log:          log,
		Cfg:          cfg,
		Metrics:      metrics,
		Storage:      storage,
		Clients:      clients,
		Services:     serviceset,
		Server:       server,
		otelShutdown: otelShutdown,
	}, nil
}

// Start launches background collectors and the lifecycle event forwarder.
func (a *App) Start() {
	if a == nil || a.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	// METRICS_ADDR moves the scrape endpoint off the API listener.
	a.Metrics.StartServer(ctx, a.Log, a.Cfg.MetricsAddr)
	if a.Storage != nil && a.Storage.DB != nil {
		a.Metrics.StartPostgresCollector(ctx, a.Log, a.Storage.DB)
	}
	if a.Clients.Redis != nil {
		a.Metrics.StartRedisCollector(ctx, a.Log, a.Clients.Redis)
	}
	if a.Clients.EventBus != nil {
		log := a.Log.With("component", "LifecycleForwarder")
		if err := a.Clients.EventBus.StartForwarder(ctx, func(ev domainagg.LifecycleEvent) {
			log.Debug("lifecycle event", "family", ev.Family, "uid", ev.UID, "action", ev.Action, "version", ev.Version)
		}); err != nil {
			a.Log.Warn("lifecycle forwarder not started", "error", err)
		}
	}
}

func (a *App) Run() error {
	if a == nil || a.Server == nil {
		return fmt.Errorf("app not initialized")
	}
	a.Log.Info("listening", "addr", a.Cfg.HTTPAddr, "storage", a.Storage.Driver)
	return a.Server.Run(a.Cfg.HTTPAddr)
}

// Close stops the server and releases every backend, waiting at most timeout.
func (a *App) Close(timeout time.Duration) {
	if a == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if a.Server != nil {
		if err := a.Server.Shutdown(ctx); err != nil {
			a.Log.Warn("http shutdown", "error", err)
		}
	}
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	if err := a.Clients.Close(); err != nil {
		a.Log.Warn("clients close", "error", err)
	}
	if a.Storage != nil {
		if err := a.Storage.Close(ctx); err != nil {
			a.Log.Warn("storage close", "error", err)
		}
	}
	if a.otelShutdown != nil {
		if err := a.otelShutdown(ctx); err != nil {
			a.Log.Warn("otel shutdown", "error", err)
		}
	}
	a.Log.Sync()
}
