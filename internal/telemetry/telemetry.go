// Package telemetry exports the relay's own logs and metrics over OTLP.
// Prometheus registry contents are bridged into the OTEL metric pipeline so
// one endpoint receives everything the /metrics page shows.
package telemetry

import (
	"context"
	"fmt"
	"time"

	prombridge "go.opentelemetry.io/contrib/bridges/prometheus"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Config holds OTLP export settings.
type Config struct {
	Endpoint        string        // OTLP endpoint (empty = disabled)
	Protocol        string        // "grpc" or "http"
	Insecure        bool          // use insecure connection
	PushInterval    time.Duration // metric push interval (default: 30s)
	ShutdownTimeout time.Duration // shutdown grace period (default: 5s)
}

// Telemetry holds the OTEL SDK providers for self-monitoring.
type Telemetry struct {
	logProvider     *sdklog.LoggerProvider
	meterProvider   *metric.MeterProvider
	logger          otellog.Logger
	shutdownFuncs   []func(context.Context) error
	shutdownTimeout time.Duration
}

// Enabled returns true if telemetry is configured.
func (t *Telemetry) Enabled() bool {
	return t != nil && t.logger != nil
}

// ShutdownTimeout returns the configured shutdown grace period.
func (t *Telemetry) ShutdownTimeout() time.Duration {
	if t == nil || t.shutdownTimeout <= 0 {
		return 5 * time.Second
	}
	return t.shutdownTimeout
}

// Init creates and starts OTLP log and metric exporters.
// Returns nil if cfg.Endpoint is empty (telemetry disabled).
func Init(ctx context.Context, cfg Config, serviceName, serviceVersion string) (*Telemetry, error) {
	if cfg.Endpoint == "" {
		return nil, nil
	}

	if cfg.Protocol == "" {
		cfg.Protocol = "grpc"
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(serviceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: create resource: %w", err)
	}

	t := &Telemetry{
		shutdownTimeout: cfg.ShutdownTimeout,
	}

	logExporter, err := newLogExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("telemetry: create log exporter: %w", err)
	}

	t.logProvider = sdklog.NewLoggerProvider(
		sdklog.WithResource(res),
		sdklog.WithProcessor(sdklog.NewBatchProcessor(logExporter)),
	)
	t.shutdownFuncs = append(t.shutdownFuncs, t.logProvider.Shutdown)
	t.logger = t.logProvider.Logger(serviceName)

	metricExporter, err := newMetricExporter(ctx, cfg)
	if err != nil {
		_ = t.Shutdown(ctx)
		return nil, fmt.Errorf("telemetry: create metric exporter: %w", err)
	}

	pushInterval := cfg.PushInterval
	if pushInterval <= 0 {
		pushInterval = 30 * time.Second
	}

	t.meterProvider = metric.NewMeterProvider(
		metric.WithResource(res),
		metric.WithReader(
			metric.NewPeriodicReader(metricExporter,
				metric.WithInterval(pushInterval),
				metric.WithProducer(prombridge.NewMetricProducer()),
			),
		),
	)
	t.shutdownFuncs = append(t.shutdownFuncs, t.meterProvider.Shutdown)

	return t, nil
}

// Shutdown flushes and stops all telemetry providers.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil {
		return nil
	}
	var firstErr error
	for _, fn := range t.shutdownFuncs {
		if err := fn(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func newLogExporter(ctx context.Context, cfg Config) (sdklog.Exporter, error) {
	if cfg.Protocol == "http" {
		opts := []otlploghttp.Option{otlploghttp.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlploghttp.WithInsecure())
		}
		return otlploghttp.New(ctx, opts...)
	}
	opts := []otlploggrpc.Option{otlploggrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlploggrpc.WithInsecure())
	}
	return otlploggrpc.New(ctx, opts...)
}

func newMetricExporter(ctx context.Context, cfg Config) (metric.Exporter, error) {
	if cfg.Protocol == "http" {
		opts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlpmetrichttp.WithInsecure())
		}
		return otlpmetrichttp.New(ctx, opts...)
	}
	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	return otlpmetricgrpc.New(ctx, opts...)
}
