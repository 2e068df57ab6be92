// Package observability provides OpenTelemetry metrics for the tiller
// governance kernel: one counter per governed operation family
// (scheduler plan/exec/drop, election lock/free/vote/lift), labeled by
// operation and outcome. Telemetry is disabled cleanly when
// unconfigured; a nil Recorder records nothing.
package observability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Config configures the OpenTelemetry metric provider.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string        // e.g. "localhost:4317" for gRPC
	ExportInterval time.Duration // how often readings are pushed
	Enabled        bool
	Insecure       bool // insecure connection (dev only)
}

// DefaultConfig returns production-ready defaults.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "tiller",
		ServiceVersion: "1.0.0",
		Environment:    "development",
		OTLPEndpoint:   "localhost:4317",
		ExportInterval: 15 * time.Second,
		Enabled:        true,
		Insecure:       false,
	}
}

// Provider manages the OpenTelemetry meter provider.
type Provider struct {
	config        *Config
	meterProvider *sdkmetric.MeterProvider
	recorder      *Recorder
	logger        *slog.Logger
}

// New creates a new observability provider. With Enabled=false it
// returns a provider whose Recorder records nothing.
func New(ctx context.Context, config *Config) (*Provider, error) {
	if config == nil {
		config = DefaultConfig()
	}

	p := &Provider{
		config: config,
		logger: slog.Default().With("component", "observability"),
	}

	if !config.Enabled {
		p.logger.InfoContext(ctx, "observability disabled")
		return p, nil
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
			semconv.DeploymentEnvironment(config.Environment),
			attribute.String("tiller.component", "core"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	opts := []otlpmetricgrpc.Option{
		otlpmetricgrpc.WithEndpoint(config.OTLPEndpoint),
	}
	if config.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}

	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create metric exporter: %w", err)
	}

	p.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter,
			sdkmetric.WithInterval(config.ExportInterval),
		)),
	)
	otel.SetMeterProvider(p.meterProvider)

	meter := otel.Meter("tiller.governance",
		metric.WithInstrumentationVersion(config.ServiceVersion),
	)
	recorder, err := newRecorder(meter)
	if err != nil {
		return nil, err
	}
	p.recorder = recorder

	p.logger.InfoContext(ctx, "observability initialized",
		"service", config.ServiceName,
		"environment", config.Environment,
		"endpoint", config.OTLPEndpoint,
		"insecure", config.Insecure,
	)
	return p, nil
}

// Recorder returns the metrics recorder (nil when disabled; a nil
// Recorder is safe to use and records nothing).
func (p *Provider) Recorder() *Recorder { return p.recorder }

// Shutdown flushes and stops the meter provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.meterProvider == nil {
		return nil
	}
	return p.meterProvider.Shutdown(ctx)
}

// Recorder holds the operation counters.
type Recorder struct {
	schedulerOps metric.Int64Counter
	electionOps  metric.Int64Counter
}

func newRecorder(meter metric.Meter) (*Recorder, error) {
	schedulerOps, err := meter.Int64Counter("tiller.scheduler.operations",
		metric.WithDescription("Scheduler plan/exec/drop calls by outcome"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler counter: %w", err)
	}
	electionOps, err := meter.Int64Counter("tiller.election.operations",
		metric.WithDescription("Election lock/free/vote/lift calls by outcome"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create election counter: %w", err)
	}
	return &Recorder{schedulerOps: schedulerOps, electionOps: electionOps}, nil
}

// RecordSchedulerOp counts one scheduler operation outcome.
func (r *Recorder) RecordSchedulerOp(op, outcome string) {
	if r == nil || r.schedulerOps == nil {
		return
	}
	r.schedulerOps.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("operation", op),
		attribute.String("outcome", outcome),
	))
}

// RecordElectionOp counts one election operation outcome.
func (r *Recorder) RecordElectionOp(op, outcome string) {
	if r == nil || r.electionOps == nil {
		return
	}
	r.electionOps.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("operation", op),
		attribute.String("outcome", outcome),
	))
}
