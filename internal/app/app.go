package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/yungbote/workbook-backend/internal/catalog"
	"github.com/yungbote/workbook-backend/internal/data/db"
	apphttp "github.com/yungbote/workbook-backend/internal/http"
	"github.com/yungbote/workbook-backend/internal/observability"
	"github.com/yungbote/workbook-backend/internal/platform/logger"
	"github.com/yungbote/workbook-backend/internal/realtime"
)

type App struct {
	Log      *logger.Logger
	DB       *gorm.DB
	Server   *apphttp.Server
	Cfg      Config
	Catalog  *catalog.Catalog
	Repos    Repos
	Clients  Clients
	Services Services
	SSEHub   *realtime.SSEHub
	Metrics  *observability.Metrics

	otelShutdown func(context.Context) error
	cancel       context.CancelFunc
}

func New(ctx context.Context) (*App, error) {
	cfg := LoadConfig(nil)
	log, err := logger.New(cfg.LogMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	log.Info("Loading environment variables...")
	cfg = LoadConfig(log)

	otelShutdown := observability.InitOTel(ctx, log, cfg.Otel)
	metrics := observability.Init(log)

	cat, err := catalog.Load()
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("load worksheet catalog: %w", err)
	}

	theDB, err := db.Open(ctx, cfg.Postgres, log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init postgres: %w", err)
	}
	if err := db.AutoMigrateAll(theDB); err != nil {
		log.Sync()
		return nil, fmt.Errorf("postgres automigrate: %w", err)
	}
	sqlDB, err := theDB.DB()
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("postgres handle: %w", err)
	}

	clients, err := wireClients(ctx, log, cfg)
	if err != nil {
		_ = sqlDB.Close()
		log.Sync()
		return nil, err
	}

	ssehub := realtime.NewSSEHub(log)
	reposet := wireRepos(theDB, log)

	serviceset, err := wireServices(theDB, log, cfg, reposet, cat, ssehub, clients)
	if err != nil {
		_ = clients.Close()
		_ = sqlDB.Close()
		log.Sync()
		return nil, err
	}

	handlerset := wireHandlers(log, sqlDB, serviceset, ssehub, metrics)
	middleware := wireMiddleware(log, serviceset)
	server := wireServer(log, cfg, metrics, handlerset, middleware)
	server.OnShutdown(ssehub.CloseAll)

	return &App{
		Log:          log,
		DB:           theDB,
		Server:       server,
		Cfg:          cfg,
		Catalog:      cat,
		Repos:        reposet,
		Clients:      clients,
		Services:     serviceset,
		SSEHub:       ssehub,
		Metrics:      metrics,
		otelShutdown: otelShutdown,
	}, nil
}

// Start launches background work: the bus forwarder that feeds the local hub
// and the pool collectors.
func (a *App) Start() error {
	if a == nil || a.cancel != nil {
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	if a.Clients.SSEBus != nil {
		if err := a.Clients.SSEBus.StartForwarder(ctx, a.SSEHub.Broadcast); err != nil {
			return fmt.Errorf("start SSE forwarder: %w", err)
		}
	}

	meter := observability.Meter()
	if err := a.Metrics.RegisterPostgresStats(meter, a.Log, a.DB); err != nil {
		a.Log.Warn("postgres pool metrics unavailable", "error", err)
	}
	if err := a.Metrics.StartRedisCollector(ctx, meter, a.Log, a.Clients.Redis); err != nil {
		a.Log.Warn("redis metrics unavailable", "error", err)
	}
	return nil
}

// Run serves until ctx is cancelled and the drain completes.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.Server == nil {
		return errors.New("app not initialized")
	}
	addr := a.Cfg.Address()
	a.Log.Info("Server listening", "addr", addr)
	return a.Server.Run(ctx, addr, a.Cfg.ShutdownDrain)
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	if err := a.Clients.Close(); err != nil {
		a.Log.Warn("closing clients", "error", err)
	}
	if a.otelShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.otelShutdown(ctx); err != nil {
			a.Log.Warn("otel shutdown", "error", err)
		}
		cancel()
	}
	if a.DB != nil {
		if sqlDB, err := a.DB.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}
