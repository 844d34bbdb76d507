// Package observability exports reqshield's defense decisions and snapshot
// storage operations through OpenTelemetry: traces to stdout or OTLP, metrics
// to a Prometheus endpoint.
package observability

import (
	"context"
	"fmt"
	"os"

	"reqshield/internal/models"
	"reqshield/internal/storage"
	"reqshield/internal/version"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Provider holds the OpenTelemetry providers for graceful shutdown.
type Provider struct {
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	promExporter   *prometheus.Exporter
}

// PrometheusExporter returns the Prometheus exporter for serving metrics.
func (p *Provider) PrometheusExporter() *prometheus.Exporter {
	return p.promExporter
}

// Shutdown gracefully shuts down all OpenTelemetry providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	var errs []error

	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracer provider shutdown: %w", err))
		}
	}

	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("meter provider shutdown: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("observability shutdown errors: %v", errs)
	}
	return nil
}

// Setup initializes OpenTelemetry tracing and metrics providers from the
// service configuration. The resource describes the running defense policy
// so exported telemetry can be told apart by deployment. The returned
// Provider must be shut down on application exit.
func Setup(cfg *models.Config, ver version.Info) (*Provider, error) {
	p := &Provider{}
	obs := cfg.Observability

	attrs := []attribute.KeyValue{
		semconv.ServiceName(obs.ServiceName),
		semconv.ServiceVersion(ver.Version),
		attribute.String("service.instance.id", ver.InstanceID),
		attribute.String("host.name", ver.Hostname),
		attribute.String("git.commit", ver.GitCommit),
		attribute.String("deployment.environment", getEnvironment()),
	}
	attrs = append(attrs, defenseAttributes(cfg.Defense, cfg.Storage)...)

	res, err := resource.New(context.Background(), resource.WithAttributes(attrs...))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	if obs.Tracing.Enabled {
		tp, err := setupTracing(res, obs.Tracing)
		if err != nil {
			return nil, fmt.Errorf("failed to setup tracing: %w", err)
		}
		p.tracerProvider = tp
		otel.SetTracerProvider(tp)
		// Proxied requests carry the trace context upstream
		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{}, propagation.Baggage{},
		))
	}

	if cfg.Metrics.Enabled {
		promExporter, err := prometheus.New()
		if err != nil {
			return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
		}
		p.promExporter = promExporter

		mp := sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(promExporter),
		)
		p.meterProvider = mp
		otel.SetMeterProvider(mp)
	}

	return p, nil
}

// defenseAttributes summarise the defense policy and snapshot backend.
func defenseAttributes(d models.DefenseConfig, st models.StorageConfig) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.Bool("reqshield.defense.enabled", d.Enabled),
		attribute.String("reqshield.storage.backend", st.Type),
	}
	if !d.Enabled {
		return attrs
	}

	routed := make(map[string]bool)
	for _, r := range d.Routes {
		routed[r.Class] = true
	}
	var classes []string
	for _, class := range []string{models.ClassAuth, models.ClassUpload, models.ClassAIAnalysis} {
		if routed[class] {
			classes = append(classes, class)
		}
	}
	classes = append(classes, models.ClassGeneral)

	return append(attrs,
		attribute.String("reqshield.defense.api_prefix", d.APIPrefix),
		attribute.StringSlice("reqshield.defense.classes", classes),
		attribute.Int("reqshield.defense.violation_threshold", d.ViolationThreshold),
		attribute.Int("reqshield.defense.allowlist_entries", len(d.Allowlist)),
	)
}

// DecisionObserver returns decision metrics bound to the provider's meter, or
// nil when metrics are disabled. quarantined backs the quarantined-keys gauge.
func (p *Provider) DecisionObserver(quarantined func() int) (*DecisionMetrics, error) {
	if p.meterProvider == nil {
		return nil, nil
	}
	return NewDecisionMetrics(p.meterProvider, quarantined)
}

// InstrumentStore wraps store with tracing and metrics when metrics are
// enabled, and returns it unchanged otherwise.
func (p *Provider) InstrumentStore(store storage.SnapshotStore, backend string) (storage.SnapshotStore, error) {
	if p.meterProvider == nil {
		return store, nil
	}
	instrumented, err := NewInstrumentedStore(store, backend)
	if err != nil {
		return nil, err
	}
	return instrumented, nil
}

func setupTracing(res *resource.Resource, cfg models.TracingConfig) (*sdktrace.TracerProvider, error) {
	var exporter sdktrace.SpanExporter
	var err error

	switch cfg.Exporter {
	case "stdout":
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
	case "otlp":
		exporter, err = otlptracegrpc.New(context.Background(),
			otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlptracegrpc.WithInsecure(),
		)
	default:
		return nil, fmt.Errorf("unsupported trace exporter: %s", cfg.Exporter)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to create %s exporter: %w", cfg.Exporter, err)
	}

	var sampler sdktrace.Sampler
	switch {
	case cfg.SampleRate >= 1.0:
		sampler = sdktrace.AlwaysSample()
	case cfg.SampleRate <= 0:
		sampler = sdktrace.NeverSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(cfg.SampleRate)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(sampler),
	)

	return tp, nil
}

// getEnvironment returns the deployment environment from environment variables,
// falling back to "development" if not set.
func getEnvironment() string {
	for _, name := range []string{"REQSHIELD_ENVIRONMENT", "ENVIRONMENT", "DEPLOYMENT_ENV"} {
		if env := os.Getenv(name); env != "" {
			return env
		}
	}
	return "development"
}
