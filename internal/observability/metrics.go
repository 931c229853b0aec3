package observability

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"gorm.io/gorm"

	"github.com/yungbote/workbook-backend/internal/platform/envutil"
	"github.com/yungbote/workbook-backend/internal/platform/logger"
	"github.com/yungbote/workbook-backend/internal/progress"
)

const instrumentationScope = "github.com/yungbote/workbook-backend"

// Metrics is the process-wide instrument set. All methods are no-ops on a nil
// receiver so callers never have to check whether metrics are enabled.
type Metrics struct {
	apiRequests metric.Int64Counter
	apiLatency  metric.Float64Histogram
	apiInflight metric.Int64UpDownCounter

	saves       metric.Int64Counter
	saveLatency metric.Float64Histogram
	discarded   metric.Int64Counter

	storeOps     metric.Int64Counter
	storeLatency metric.Float64Histogram

	sseClients metric.Int64UpDownCounter

	redisUp     atomic.Int64
	redisPingUs atomic.Int64
}

var (
	initOnce sync.Once
	instance *Metrics
)

var _ progress.Hooks = (*Metrics)(nil)

func Enabled() bool {
	return envutil.Bool("METRICS_ENABLED", false)
}

// Meter is the workbook meter from the global provider.
func Meter() metric.Meter {
	return otel.Meter(instrumentationScope)
}

func Current() *Metrics {
	return instance
}

// Init builds the global Metrics from the global meter provider. It returns nil
// when METRICS_ENABLED is off.
func Init(log *logger.Logger) *Metrics {
	if !Enabled() {
		return nil
	}
	initOnce.Do(func() {
		m, err := NewMetrics(Meter())
		if err != nil {
			if log != nil {
				log.Warn("metrics init failed; continuing without metrics", "error", err)
			}
			return
		}
		instance = m
		if log != nil {
			log.Info("metrics initialized")
		}
	})
	return instance
}

func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error
	if m.apiRequests, err = meter.Int64Counter("workbook.api.requests",
		metric.WithDescription("API requests by method, route and status")); err != nil {
		return nil, err
	}
	if m.apiLatency, err = meter.Float64Histogram("workbook.api.duration",
		metric.WithDescription("API request latency"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10)); err != nil {
		return nil, err
	}
	if m.apiInflight, err = meter.Int64UpDownCounter("workbook.api.inflight",
		metric.WithDescription("API requests in flight")); err != nil {
		return nil, err
	}
	if m.saves, err = meter.Int64Counter("workbook.progress.saves",
		metric.WithDescription("Worksheet upserts issued by save controllers, by outcome")); err != nil {
		return nil, err
	}
	if m.saveLatency, err = meter.Float64Histogram("workbook.progress.save.duration",
		metric.WithDescription("Worksheet upsert latency as seen by save controllers"),
		metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if m.discarded, err = meter.Int64Counter("workbook.progress.discarded",
		metric.WithDescription("Scheduled saves or responses dropped, by reason")); err != nil {
		return nil, err
	}
	if m.storeOps, err = meter.Int64Counter("workbook.store.operations",
		metric.WithDescription("Progress store operations by op and status")); err != nil {
		return nil, err
	}
	if m.storeLatency, err = meter.Float64Histogram("workbook.store.operation.duration",
		metric.WithDescription("Progress store operation latency"),
		metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if m.sseClients, err = meter.Int64UpDownCounter("workbook.sse.clients",
		metric.WithDescription("Open server-sent event streams")); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) ObserveAPI(method, route, status string, dur time.Duration) {
	if m == nil {
		return
	}
	if method == "" {
		method = "UNKNOWN"
	}
	if route == "" {
		route = "unknown"
	}
	if status == "" {
		status = "0"
	}
	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("route", route),
		attribute.String("status", status),
	)
	ctx := context.Background()
	m.apiRequests.Add(ctx, 1, attrs)
	m.apiLatency.Record(ctx, dur.Seconds(), attrs)
}

func (m *Metrics) ApiInflightInc() {
	if m == nil {
		return
	}
	m.apiInflight.Add(context.Background(), 1)
}

func (m *Metrics) ApiInflightDec() {
	if m == nil {
		return
	}
	m.apiInflight.Add(context.Background(), -1)
}

func (m *Metrics) ObserveSave(key progress.Key, status string, dur time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("status", status),
		attribute.String("phase", strconv.Itoa(key.PhaseNumber)),
	)
	ctx := context.Background()
	m.saves.Add(ctx, 1, attrs)
	m.saveLatency.Record(ctx, dur.Seconds(), attrs)
}

func (m *Metrics) IncDiscarded(key progress.Key, reason string) {
	if m == nil {
		return
	}
	m.discarded.Add(context.Background(), 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func (m *Metrics) ObserveStoreOp(op, status string, dur time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("op", op), attribute.String("status", status))
	ctx := context.Background()
	m.storeOps.Add(ctx, 1, attrs)
	m.storeLatency.Record(ctx, dur.Seconds(), attrs)
}

func (m *Metrics) SSEClientsAdd(delta int64) {
	if m == nil {
		return
	}
	m.sseClients.Add(context.Background(), delta)
}

// RegisterPostgresStats reports connection pool stats of db on every collection.
func (m *Metrics) RegisterPostgresStats(meter metric.Meter, log *logger.Logger, db *gorm.DB) error {
	if m == nil || db == nil {
		return nil
	}
	pool, err := meter.Int64ObservableGauge("workbook.postgres.pool",
		metric.WithDescription("database/sql pool stats by field"))
	if err != nil {
		return err
	}
	_, err = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		sqlDB, err := db.DB()
		if err != nil {
			if log != nil {
				log.Warn("metrics: postgres stats unavailable", "error", err)
			}
			return nil
		}
		stats := sqlDB.Stats()
		for field, v := range map[string]int64{
			"open_connections":     int64(stats.OpenConnections),
			"in_use":               int64(stats.InUse),
			"idle":                 int64(stats.Idle),
			"wait_count":           stats.WaitCount,
			"max_open_connections": int64(stats.MaxOpenConnections),
		} {
			o.ObserveInt64(pool, v, metric.WithAttributes(attribute.String("field", field)))
		}
		return nil
	}, pool)
	return err
}

// StartRedisCollector pings rdb every interval until ctx ends and reports
// availability and ping latency.
func (m *Metrics) StartRedisCollector(ctx context.Context, meter metric.Meter, log *logger.Logger, rdb *goredis.Client) error {
	if m == nil || rdb == nil {
		return nil
	}
	up, err := meter.Int64ObservableGauge("workbook.redis.up",
		metric.WithDescription("1 when the last redis ping succeeded"))
	if err != nil {
		return err
	}
	ping, err := meter.Float64ObservableGauge("workbook.redis.ping",
		metric.WithDescription("Latency of the last redis ping"),
		metric.WithUnit("s"))
	if err != nil {
		return err
	}
	if _, err := meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveInt64(up, m.redisUp.Load())
		o.ObserveFloat64(ping, float64(m.redisPingUs.Load())/1e6)
		return nil
	}, up, ping); err != nil {
		return err
	}

	interval := envutil.Seconds("METRICS_SCRAPE_INTERVAL_SECONDS", 15*time.Second)
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				start := time.Now()
				if err := rdb.Ping(ctx).Err(); err != nil {
					m.redisUp.Store(0)
					if log != nil && ctx.Err() == nil {
						log.Warn("metrics: redis ping failed", "error", err)
					}
					continue
				}
				m.redisUp.Store(1)
				m.redisPingUs.Store(time.Since(start).Microseconds())
			}
		}
	}()
	return nil
}
