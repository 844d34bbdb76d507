package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"reqshield/internal/ratelimit"
)

// DecisionMetrics records every defense decision as OpenTelemetry metrics and
// annotates the active request span. It implements ratelimit.Observer.
type DecisionMetrics struct {
	decisions   metric.Int64Counter
	quarantines metric.Int64Counter
	retryAfter  metric.Float64Histogram
}

// NewDecisionMetrics registers the defense instruments on mp, or on the
// global meter provider when mp is nil. quarantined reports the current size
// of the suspicious-key registry and backs an observable gauge; it may be nil.
func NewDecisionMetrics(mp metric.MeterProvider, quarantined func() int) (*DecisionMetrics, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter("reqshield/defense")

	decisions, err := meter.Int64Counter(
		"defense.decisions",
		metric.WithDescription("Defense decisions by endpoint class, outcome and denial type"),
		metric.WithUnit("{decision}"),
	)
	if err != nil {
		return nil, err
	}

	quarantines, err := meter.Int64Counter(
		"defense.quarantines",
		metric.WithDescription("Keys placed in quarantine after crossing the violation threshold"),
		metric.WithUnit("{key}"),
	)
	if err != nil {
		return nil, err
	}

	retryAfter, err := meter.Float64Histogram(
		"defense.retry_after",
		metric.WithDescription("Retry-After advertised to denied clients"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	if quarantined != nil {
		_, err = meter.Int64ObservableGauge(
			"defense.quarantined_keys",
			metric.WithDescription("Keys currently in quarantine"),
			metric.WithUnit("{key}"),
			metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
				o.Observe(int64(quarantined()))
				return nil
			}),
		)
		if err != nil {
			return nil, err
		}
	}

	return &DecisionMetrics{
		decisions:   decisions,
		quarantines: quarantines,
		retryAfter:  retryAfter,
	}, nil
}

func outcome(d ratelimit.Decision) string {
	if d.Allow {
		return "allowed"
	}
	return "denied"
}

// ObserveDecision implements ratelimit.Observer.
func (m *DecisionMetrics) ObserveDecision(ctx context.Context, d ratelimit.Decision) {
	attrs := []attribute.KeyValue{
		attribute.String("class", string(d.Class)),
		attribute.String("outcome", outcome(d)),
	}
	if !d.Allow {
		attrs = append(attrs, attribute.String("type", d.Type))
	}
	m.decisions.Add(ctx, 1, metric.WithAttributes(attrs...))

	if !d.Allow && d.RetryAfter > 0 {
		m.retryAfter.Record(ctx, d.RetryAfter.Seconds(),
			metric.WithAttributes(attribute.String("class", string(d.Class))))
	}
	if d.Flagged {
		m.quarantines.Add(ctx, 1, metric.WithAttributes(attribute.String("class", string(d.Class))))
	}

	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.SetAttributes(
			attribute.String("defense.class", string(d.Class)),
			attribute.Bool("defense.allowed", d.Allow),
		)
		if !d.Allow {
			span.SetAttributes(
				attribute.String("defense.denial_type", d.Type),
				attribute.Int("defense.violations", d.Violations),
			)
		}
	}
}
