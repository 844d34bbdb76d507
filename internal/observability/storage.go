package observability

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"reqshield/internal/models"
	"reqshield/internal/storage"
)

// InstrumentedStore wraps a storage.SnapshotStore with OpenTelemetry tracing
// and metrics instrumentation.
type InstrumentedStore struct {
	inner    storage.SnapshotStore
	backend  string
	tracer   trace.Tracer
	duration metric.Float64Histogram
	errors   metric.Int64Counter
}

// NewInstrumentedStore creates a store wrapper that records trace spans,
// operation latency histograms, and error counters for every store call.
func NewInstrumentedStore(inner storage.SnapshotStore, backend string) (*InstrumentedStore, error) {
	tracer := otel.Tracer("reqshield/storage")
	meter := otel.Meter("reqshield/storage")

	duration, err := meter.Float64Histogram(
		"storage.operation.duration",
		metric.WithDescription("Duration of snapshot storage operations in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	errCounter, err := meter.Int64Counter(
		"storage.operation.errors",
		metric.WithDescription("Number of snapshot storage operation errors"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	return &InstrumentedStore{
		inner:    inner,
		backend:  backend,
		tracer:   tracer,
		duration: duration,
		errors:   errCounter,
	}, nil
}

func (s *InstrumentedStore) startSpan(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx, span := s.tracer.Start(ctx, "storage."+operation,
		trace.WithAttributes(append([]attribute.KeyValue{
			attribute.String("storage.operation", operation),
			attribute.String("storage.backend", s.backend),
		}, attrs...)...),
	)
	return ctx, span
}

func (s *InstrumentedStore) record(ctx context.Context, span trace.Span, operation string, start time.Time, err error) {
	elapsed := time.Since(start).Seconds()
	attrs := metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("backend", s.backend),
	)

	s.duration.Record(ctx, elapsed, attrs)

	// An empty store on first start is not a failure
	if err != nil && !errors.Is(err, storage.ErrSnapshotNotFound) {
		s.errors.Add(ctx, 1, attrs)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}

	span.End()
}

func (s *InstrumentedStore) Load(ctx context.Context) (*models.DefenseSnapshot, error) {
	ctx, span := s.startSpan(ctx, "Load")
	start := time.Now()
	snap, err := s.inner.Load(ctx)
	if snap != nil {
		span.SetAttributes(
			attribute.Int("snapshot.violations", len(snap.Violations)),
			attribute.Int("snapshot.quarantines", len(snap.Quarantines)),
		)
	}
	s.record(ctx, span, "Load", start, err)
	return snap, err
}

func (s *InstrumentedStore) Save(ctx context.Context, snap *models.DefenseSnapshot) error {
	ctx, span := s.startSpan(ctx, "Save",
		attribute.Int("snapshot.violations", len(snap.Violations)),
		attribute.Int("snapshot.quarantines", len(snap.Quarantines)),
	)
	start := time.Now()
	err := s.inner.Save(ctx, snap)
	s.record(ctx, span, "Save", start, err)
	return err
}

func (s *InstrumentedStore) Ping(ctx context.Context) error {
	ctx, span := s.startSpan(ctx, "Ping")
	start := time.Now()
	err := s.inner.Ping(ctx)
	s.record(ctx, span, "Ping", start, err)
	return err
}

func (s *InstrumentedStore) Close() error {
	return s.inner.Close()
}
