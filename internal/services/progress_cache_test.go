package services

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/workbook-backend/internal/data/repos/testutil"
	"github.com/yungbote/workbook-backend/internal/progress"
)

func TestRedisProgressCache(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set TEST_REDIS_ADDR to run redis integration tests")
	}
	rdb := goredis.NewClient(&goredis.Options{Addr: addr})
	t.Cleanup(func() { _ = rdb.Close() })

	cache, err := NewRedisProgressCache(testutil.Logger(t), rdb, time.Minute)
	if err != nil {
		t.Fatalf("NewRedisProgressCache: %v", err)
	}
	ctx := context.Background()
	userID := uuid.New()

	_, gen, ok, err := cache.GetPhase(ctx, userID, 3)
	if err != nil || ok {
		t.Fatalf("cold GetPhase: ok=%v err=%v", ok, err)
	}

	recs := []progress.WorksheetProgress{{
		PhaseNumber: 3,
		WorksheetID: "future-self-letter",
		Data:        progress.Document{"draft": "dear me"},
		Completed:   true,
		UpdatedAt:   time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}}
	if err := cache.SetPhase(ctx, userID, 3, gen, recs); err != nil {
		t.Fatalf("SetPhase: %v", err)
	}
	got, _, ok, err := cache.GetPhase(ctx, userID, 3)
	if err != nil || !ok {
		t.Fatalf("warm GetPhase: ok=%v err=%v", ok, err)
	}
	if len(got) != 1 || got[0].WorksheetID != "future-self-letter" || !got[0].Completed || !got[0].UpdatedAt.Equal(recs[0].UpdatedAt) {
		t.Fatalf("cached records: got=%+v", got)
	}

	if err := cache.SetPhase(ctx, userID, 4, 0, nil); err != nil {
		t.Fatalf("SetPhase empty: %v", err)
	}
	if empty, _, ok, err := cache.GetPhase(ctx, userID, 4); err != nil || !ok || empty == nil || len(empty) != 0 {
		t.Fatalf("cached empty phase: recs=%v ok=%v err=%v", empty, ok, err)
	}

	if err := cache.InvalidatePhase(ctx, userID, 3); err != nil {
		t.Fatalf("InvalidatePhase: %v", err)
	}
	if _, _, ok, _ := cache.GetPhase(ctx, userID, 3); ok {
		t.Fatalf("entry should be gone after invalidation")
	}
}

func TestRedisProgressCacheSkipsWriteAfterInvalidation(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set TEST_REDIS_ADDR to run redis integration tests")
	}
	rdb := goredis.NewClient(&goredis.Options{Addr: addr})
	t.Cleanup(func() { _ = rdb.Close() })

	cache, err := NewRedisProgressCache(testutil.Logger(t), rdb, time.Minute)
	if err != nil {
		t.Fatalf("NewRedisProgressCache: %v", err)
	}
	ctx := context.Background()
	userID := uuid.New()
	t.Cleanup(func() {
		_ = rdb.Del(context.Background(), phaseCacheKey(userID, 2), phaseGenKey(userID, 2)).Err()
	})

	_, readGen, ok, err := cache.GetPhase(ctx, userID, 2)
	if err != nil || ok {
		t.Fatalf("cold GetPhase: ok=%v err=%v", ok, err)
	}
	if err := cache.InvalidatePhase(ctx, userID, 2); err != nil {
		t.Fatalf("InvalidatePhase: %v", err)
	}
	stale := []progress.WorksheetProgress{{PhaseNumber: 2, WorksheetID: "swot"}}
	if err := cache.SetPhase(ctx, userID, 2, readGen, stale); err != nil {
		t.Fatalf("SetPhase stale: %v", err)
	}
	_, gen, ok, err := cache.GetPhase(ctx, userID, 2)
	if err != nil || ok {
		t.Fatalf("GetPhase after stale write: ok=%v err=%v", ok, err)
	}
	if gen != readGen+1 {
		t.Fatalf("generation: want=%d got=%d", readGen+1, gen)
	}

	if err := cache.SetPhase(ctx, userID, 2, gen, stale); err != nil {
		t.Fatalf("SetPhase current: %v", err)
	}
	if recs, _, ok, err := cache.GetPhase(ctx, userID, 2); err != nil || !ok || len(recs) != 1 {
		t.Fatalf("GetPhase after current write: recs=%v ok=%v err=%v", recs, ok, err)
	}
}

func TestNoopProgressCacheAlwaysMisses(t *testing.T) {
	cache := NewNoopProgressCache()
	ctx := context.Background()
	userID := uuid.New()
	if err := cache.SetPhase(ctx, userID, 1, 0, []progress.WorksheetProgress{{PhaseNumber: 1, WorksheetID: "swot"}}); err != nil {
		t.Fatalf("SetPhase: %v", err)
	}
	if _, _, ok, err := cache.GetPhase(ctx, userID, 1); ok || err != nil {
		t.Fatalf("GetPhase: want miss got ok=%v err=%v", ok, err)
	}
}
