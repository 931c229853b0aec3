package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/yungbote/workbook-backend/internal/progress"
)

// InstrumentedStore wraps a progress.Store with a span and a metric per call.
type InstrumentedStore struct {
	inner   progress.Store
	tracer  trace.Tracer
	metrics *Metrics
}

var _ progress.Store = (*InstrumentedStore)(nil)

// InstrumentStore decorates inner. A nil tracer uses the global provider; a nil
// m records spans only.
func InstrumentStore(inner progress.Store, tracer trace.Tracer, m *Metrics) *InstrumentedStore {
	if tracer == nil {
		tracer = otel.Tracer(instrumentationScope + "/progress")
	}
	return &InstrumentedStore{inner: inner, tracer: tracer, metrics: m}
}

func (s *InstrumentedStore) Upsert(ctx context.Context, key progress.Key, data progress.Document, completed *bool) error {
	attrs := keyAttrs(key)
	if completed != nil {
		attrs = append(attrs, attribute.Bool("progress.completed", *completed))
	}
	ctx, span := s.tracer.Start(ctx, "progress.Upsert", trace.WithAttributes(attrs...))
	start := time.Now()
	err := s.inner.Upsert(ctx, key, data, completed)
	s.end(span, "upsert", start, err)
	return err
}

func (s *InstrumentedStore) FetchOne(ctx context.Context, key progress.Key) (*progress.WorksheetProgress, error) {
	ctx, span := s.tracer.Start(ctx, "progress.FetchOne", trace.WithAttributes(keyAttrs(key)...))
	start := time.Now()
	rec, err := s.inner.FetchOne(ctx, key)
	span.SetAttributes(attribute.Bool("progress.found", rec != nil))
	s.end(span, "fetch_one", start, err)
	return rec, err
}

func (s *InstrumentedStore) FetchByPhase(ctx context.Context, phase int) ([]progress.WorksheetProgress, error) {
	ctx, span := s.tracer.Start(ctx, "progress.FetchByPhase", trace.WithAttributes(attribute.Int("progress.phase", phase)))
	start := time.Now()
	recs, err := s.inner.FetchByPhase(ctx, phase)
	span.SetAttributes(attribute.Int("progress.records", len(recs)))
	s.end(span, "fetch_by_phase", start, err)
	return recs, err
}

func (s *InstrumentedStore) end(span trace.Span, op string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	s.metrics.ObserveStoreOp(op, status, time.Since(start))
	span.End()
}

func keyAttrs(key progress.Key) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int("progress.phase", key.PhaseNumber),
		attribute.String("progress.worksheet_id", key.WorksheetID),
	}
}
