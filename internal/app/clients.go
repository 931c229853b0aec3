package app

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/workbook-backend/internal/platform/logger"
	"github.com/yungbote/workbook-backend/internal/realtime/bus"
)

type Clients struct {
	Redis  *goredis.Client
	SSEBus bus.Bus
}

// wireClients connects to Redis only when REDIS_ADDR is set; a zero Clients
// means single-instance mode.
func wireClients(ctx context.Context, log *logger.Logger, cfg Config) (Clients, error) {
	log.Info("Wiring clients...")
	if cfg.RedisAddr == "" {
		return Clients{}, nil
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return Clients{}, fmt.Errorf("redis ping %s: %w", cfg.RedisAddr, err)
	}

	b, err := bus.NewRedisBus(log, rdb, cfg.RedisChannel)
	if err != nil {
		_ = rdb.Close()
		return Clients{}, fmt.Errorf("init redis SSE bus: %w", err)
	}
	return Clients{Redis: rdb, SSEBus: b}, nil
}

func (c Clients) Close() error {
	var err error
	if c.SSEBus != nil {
		err = c.SSEBus.Close()
	}
	if c.Redis != nil {
		if cerr := c.Redis.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}
