package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/workbook-backend/internal/platform/logger"
	"github.com/yungbote/workbook-backend/internal/progress"
)

const (
	DefaultProgressCacheTTL = 5 * time.Minute

	// generations must outlive any read-through in progress
	minGenerationTTL = 24 * time.Hour
)

// ProgressCache holds per-phase record lists. A miss is (nil, gen, false, nil).
//
// Every invalidation bumps the phase generation. SetPhase only fills the entry
// while the generation still equals the one GetPhase returned, so a list read
// before a save cannot be written back after that save invalidated it.
type ProgressCache interface {
	GetPhase(ctx context.Context, userID uuid.UUID, phase int) ([]progress.WorksheetProgress, uint64, bool, error)
	SetPhase(ctx context.Context, userID uuid.UUID, phase int, gen uint64, records []progress.WorksheetProgress) error
	InvalidatePhase(ctx context.Context, userID uuid.UUID, phase int) error
}

type redisProgressCache struct {
	log    *logger.Logger
	rdb    *goredis.Client
	ttl    time.Duration
	genTTL time.Duration
}

func NewRedisProgressCache(log *logger.Logger, rdb *goredis.Client, ttl time.Duration) (ProgressCache, error) {
	if rdb == nil {
		return nil, errors.New("redis client required")
	}
	if ttl <= 0 {
		ttl = DefaultProgressCacheTTL
	}
	genTTL := minGenerationTTL
	if ttl > genTTL {
		genTTL = ttl
	}
	return &redisProgressCache{
		log:    log.With("service", "ProgressCache"),
		rdb:    rdb,
		ttl:    ttl,
		genTTL: genTTL,
	}, nil
}

func phaseCacheKey(userID uuid.UUID, phase int) string {
	return fmt.Sprintf("workbook:progress:%s:%d", userID, phase)
}

func phaseGenKey(userID uuid.UUID, phase int) string {
	return phaseCacheKey(userID, phase) + ":gen"
}

func (c *redisProgressCache) GetPhase(ctx context.Context, userID uuid.UUID, phase int) ([]progress.WorksheetProgress, uint64, bool, error) {
	vals, err := c.rdb.MGet(ctx, phaseCacheKey(userID, phase), phaseGenKey(userID, phase)).Result()
	if err != nil {
		return nil, 0, false, err
	}
	gen, err := parseGeneration(vals[1])
	if err != nil {
		return nil, 0, false, err
	}
	raw, ok := vals[0].(string)
	if !ok {
		return nil, gen, false, nil
	}
	var out []progress.WorksheetProgress
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		// corrupt entry; treat as a miss and let the next SetPhase replace it
		c.log.Warn("Discarding undecodable cache entry", "phase", phase, "error", err)
		return nil, gen, false, nil
	}
	if out == nil {
		out = []progress.WorksheetProgress{}
	}
	return out, gen, true, nil
}

func (c *redisProgressCache) SetPhase(ctx context.Context, userID uuid.UUID, phase int, gen uint64, records []progress.WorksheetProgress) error {
	if records == nil {
		records = []progress.WorksheetProgress{}
	}
	raw, err := json.Marshal(records)
	if err != nil {
		return err
	}
	key, genKey := phaseCacheKey(userID, phase), phaseGenKey(userID, phase)
	err = c.rdb.Watch(ctx, func(tx *goredis.Tx) error {
		cur, err := tx.Get(ctx, genKey).Result()
		if err != nil && !errors.Is(err, goredis.Nil) {
			return err
		}
		curGen, err := parseGeneration(cur)
		if err != nil {
			return err
		}
		if curGen != gen {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, key, raw, c.ttl)
			return nil
		})
		return err
	}, genKey)
	if errors.Is(err, goredis.TxFailedErr) {
		// invalidated while we were writing; the entry stays empty
		return nil
	}
	return err
}

func (c *redisProgressCache) InvalidatePhase(ctx context.Context, userID uuid.UUID, phase int) error {
	key, genKey := phaseCacheKey(userID, phase), phaseGenKey(userID, phase)
	_, err := c.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Incr(ctx, genKey)
		pipe.Expire(ctx, genKey, c.genTTL)
		pipe.Del(ctx, key)
		return nil
	})
	return err
}

func parseGeneration(v any) (uint64, error) {
	switch s := v.(type) {
	case nil:
		return 0, nil
	case string:
		if s == "" {
			return 0, nil
		}
		gen, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("parse cache generation %q: %w", s, err)
		}
		return gen, nil
	default:
		return 0, fmt.Errorf("unexpected cache generation %T", v)
	}
}

type noopProgressCache struct{}

// NewNoopProgressCache is used when REDIS_ADDR is unset. Every lookup misses.
func NewNoopProgressCache() ProgressCache { return noopProgressCache{} }

func (noopProgressCache) GetPhase(context.Context, uuid.UUID, int) ([]progress.WorksheetProgress, uint64, bool, error) {
	return nil, 0, false, nil
}

func (noopProgressCache) SetPhase(context.Context, uuid.UUID, int, uint64, []progress.WorksheetProgress) error {
	return nil
}

func (noopProgressCache) InvalidatePhase(context.Context, uuid.UUID, int) error { return nil }
