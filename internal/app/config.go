package app

import (
	"strings"
	"time"

	"github.com/yungbote/workbook-backend/internal/data/db"
	"github.com/yungbote/workbook-backend/internal/observability"
	"github.com/yungbote/workbook-backend/internal/platform/envutil"
	"github.com/yungbote/workbook-backend/internal/platform/logger"
	"github.com/yungbote/workbook-backend/internal/services"
)

type Config struct {
	LogMode string
	Port    string

	JWTSecretKey   string
	AccessTokenTTL time.Duration

	Postgres db.Config

	RedisAddr        string
	RedisPassword    string
	RedisDB          int
	RedisChannel     string
	ProgressCacheTTL time.Duration

	StrictCatalog bool
	CORSOrigins   []string
	ShutdownDrain time.Duration

	Otel observability.OtelConfig
}

func LoadConfig(log *logger.Logger) Config {
	cfg := Config{
		LogMode:          envutil.String("LOG_MODE", "development"),
		Port:             envutil.String("PORT", "8080"),
		JWTSecretKey:     envutil.String("JWT_SECRET_KEY", ""),
		AccessTokenTTL:   envutil.Seconds("ACCESS_TOKEN_TTL", time.Hour),
		Postgres:         db.ConfigFromEnv(),
		RedisAddr:        envutil.String("REDIS_ADDR", ""),
		RedisPassword:    envutil.String("REDIS_PASSWORD", ""),
		RedisDB:          envutil.Int("REDIS_DB", 0),
		RedisChannel:     envutil.String("REDIS_CHANNEL", "workbook-sse"),
		ProgressCacheTTL: envutil.Seconds("PROGRESS_CACHE_TTL_SECONDS", services.DefaultProgressCacheTTL),
		StrictCatalog:    envutil.Bool("WORKBOOK_STRICT_CATALOG", false),
		CORSOrigins:      splitList(envutil.String("CORS_ALLOWED_ORIGINS", "")),
		ShutdownDrain:    envutil.Seconds("SHUTDOWN_DRAIN_SECONDS", 15*time.Second),
		Otel: observability.OtelConfig{
			ServiceName: envutil.String("OTEL_SERVICE_NAME", "workbook"),
			Environment: envutil.String("APP_ENV", "development"),
			Version:     envutil.String("APP_VERSION", ""),
		},
	}
	if log != nil {
		if cfg.RedisAddr == "" {
			log.Info("REDIS_ADDR not set; progress cache and cross-instance SSE disabled")
		}
	}
	return cfg
}

// Address is the listen address for Port.
func (c Config) Address() string {
	if strings.Contains(c.Port, ":") {
		return c.Port
	}
	return ":" + c.Port
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
