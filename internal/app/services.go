package app

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/yungbote/workbook-backend/internal/catalog"
	"github.com/yungbote/workbook-backend/internal/platform/logger"
	"github.com/yungbote/workbook-backend/internal/realtime"
	"github.com/yungbote/workbook-backend/internal/services"
)

type Services struct {
	Auth     services.AuthService
	Workbook services.WorkbookService
	Cache    services.ProgressCache
	Emitter  services.SSEEmitter
}

func wireServices(db *gorm.DB, log *logger.Logger, cfg Config, repos Repos, cat *catalog.Catalog, sseHub *realtime.SSEHub, clients Clients) (Services, error) {
	log.Info("Wiring services...")

	authService, err := services.NewAuthService(log, cfg.JWTSecretKey, cfg.AccessTokenTTL)
	if err != nil {
		return Services{}, fmt.Errorf("init auth service: %w", err)
	}

	cache := services.NewNoopProgressCache()
	if clients.Redis != nil {
		cache, err = services.NewRedisProgressCache(log, clients.Redis, cfg.ProgressCacheTTL)
		if err != nil {
			return Services{}, fmt.Errorf("init progress cache: %w", err)
		}
	}

	// With a bus every instance hears every save through its forwarder, so the
	// local hub must not be fed directly or streams would see events twice.
	var emitter services.SSEEmitter
	if clients.SSEBus != nil {
		emitter = &services.RedisEmitter{Bus: clients.SSEBus, Log: log}
	} else {
		emitter = &services.HubEmitter{Hub: sseHub}
	}

	workbookService := services.NewWorkbookService(
		db, log,
		repos.Progress,
		cat,
		cache,
		emitter,
		services.WorkbookServiceOptions{StrictCatalog: cfg.StrictCatalog},
	)

	return Services{
		Auth:     authService,
		Workbook: workbookService,
		Cache:    cache,
		Emitter:  emitter,
	}, nil
}
