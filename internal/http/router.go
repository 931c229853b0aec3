package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/yungbote/workbook-backend/internal/http/handlers"
	httpMW "github.com/yungbote/workbook-backend/internal/http/middleware"
	"github.com/yungbote/workbook-backend/internal/observability"
	"github.com/yungbote/workbook-backend/internal/platform/logger"
)

type RouterConfig struct {
	Log         *logger.Logger
	Metrics     *observability.Metrics
	ServiceName string
	CORSOrigins []string

	AuthMiddleware  *httpMW.AuthMiddleware
	HealthHandler   *httpH.HealthHandler
	WorkbookHandler *httpH.WorkbookHandler
	RealtimeHandler *httpH.RealtimeHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "workbook"
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware(serviceName))
	r.Use(httpMW.AttachTraceContext())
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(httpMW.Metrics(cfg.Metrics))
	r.Use(httpMW.CORS(cfg.CORSOrigins))

	// Health
	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
	}

	api := r.Group("/api")
	protected := api.Group("/")
	{
		if cfg.AuthMiddleware != nil {
			protected.Use(cfg.AuthMiddleware.RequireAuth())
		}

		// Realtime (SSE)
		if cfg.RealtimeHandler != nil {
			protected.GET("/sse/stream", cfg.RealtimeHandler.SSEStream)
		}

		// Workbook
		if cfg.WorkbookHandler != nil {
			wb := protected.Group("/workbook")
			wb.GET("/overview", cfg.WorkbookHandler.Overview)
			wb.GET("/phases/:phase/exercises", cfg.WorkbookHandler.PhaseExercises)
			wb.GET("/phases/:phase/worksheets", cfg.WorkbookHandler.ListWorksheets)
			wb.GET("/phases/:phase/worksheets/:worksheetId", cfg.WorkbookHandler.GetWorksheet)
			wb.PUT("/phases/:phase/worksheets/:worksheetId", cfg.WorkbookHandler.SaveWorksheet)
		}
	}

	return r
}
