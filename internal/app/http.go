package app

import (
	apphttp "github.com/yungbote/workbook-backend/internal/http"
	httpH "github.com/yungbote/workbook-backend/internal/http/handlers"
	httpMW "github.com/yungbote/workbook-backend/internal/http/middleware"
	"github.com/yungbote/workbook-backend/internal/observability"
	"github.com/yungbote/workbook-backend/internal/platform/logger"
	"github.com/yungbote/workbook-backend/internal/realtime"
)

type Middleware struct {
	Auth *httpMW.AuthMiddleware
}

type Handlers struct {
	Health   *httpH.HealthHandler
	Workbook *httpH.WorkbookHandler
	Realtime *httpH.RealtimeHandler
}

func wireHandlers(log *logger.Logger, db httpH.Pinger, services Services, sseHub *realtime.SSEHub, metrics *observability.Metrics) Handlers {
	log.Info("Wiring handlers...")
	return Handlers{
		Health:   httpH.NewHealthHandler(db),
		Workbook: httpH.NewWorkbookHandler(log, services.Workbook),
		Realtime: httpH.NewRealtimeHandler(log, sseHub, metrics),
	}
}

func wireMiddleware(log *logger.Logger, services Services) Middleware {
	log.Info("Wiring middleware...")
	return Middleware{
		Auth: httpMW.NewAuthMiddleware(log, services.Auth),
	}
}

func wireServer(log *logger.Logger, cfg Config, metrics *observability.Metrics, handlers Handlers, middleware Middleware) *apphttp.Server {
	return apphttp.NewServer(apphttp.RouterConfig{
		Log:             log,
		Metrics:         metrics,
		ServiceName:     cfg.Otel.ServiceName,
		CORSOrigins:     cfg.CORSOrigins,
		AuthMiddleware:  middleware.Auth,
		HealthHandler:   handlers.Health,
		WorkbookHandler: handlers.Workbook,
		RealtimeHandler: handlers.Realtime,
	})
}
