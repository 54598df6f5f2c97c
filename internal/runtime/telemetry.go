package runtime

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	otelmetric "go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/mohammad-safakhou/podcaster/config"
)

const defaultOTLPEndpoint = "localhost:4317"

// Telemetry owns the process-wide tracer and meter providers.
type Telemetry struct {
	tp       *sdktrace.TracerProvider
	mp       *sdkmetric.MeterProvider
	registry *prometheus.Registry
	metrics  *http.Server
}

type TelemetryOptions struct {
	ServiceName    string
	ServiceVersion string
	MetricsPort    int // worker only; serve mounts MetricsHandler on its own router
}

// SetupTelemetry installs global otel providers. The podcaster_* instruments
// always land in a Prometheus registry served by MetricsHandler. With
// telemetry enabled, spans and metrics are also pushed over OTLP gRPC.
func SetupTelemetry(ctx context.Context, cfg config.TelemetryConfig, opts TelemetryOptions) (*Telemetry, otelmetric.Meter, trace.Tracer, error) {
	if opts.ServiceName == "" {
		opts.ServiceName = "podcaster"
	}
	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceName(opts.ServiceName),
		semconv.ServiceVersion(opts.ServiceVersion),
		attribute.String("service.namespace", "podcaster"),
	))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("telemetry resource: %w", err)
	}

	t := &Telemetry{registry: prometheus.NewRegistry()}
	t.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	bridge, err := promexporter.New(promexporter.WithRegisterer(t.registry))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("prometheus exporter: %w", err)
	}
	metricOpts := []sdkmetric.Option{sdkmetric.WithResource(res), sdkmetric.WithReader(bridge)}

	if cfg.Enabled {
		reader, err := t.startOTLP(ctx, cfg.OTLPEndpoint, res)
		if err != nil {
			return nil, nil, nil, err
		}
		metricOpts = append(metricOpts, sdkmetric.WithReader(reader))
		if opts.MetricsPort > 0 {
			t.serveMetrics(opts.MetricsPort)
		}
	}

	t.mp = sdkmetric.NewMeterProvider(metricOpts...)
	otel.SetMeterProvider(t.mp)
	return t, t.mp.Meter(opts.ServiceName), otel.Tracer(opts.ServiceName), nil
}

// startOTLP installs the OTLP trace provider and returns the periodic metric
// reader pushing to the same collector.
func (t *Telemetry) startOTLP(ctx context.Context, endpoint string, res *resource.Resource) (sdkmetric.Reader, error) {
	if endpoint == "" {
		endpoint = defaultOTLPEndpoint
	}
	spans, err := otlptracegrpc.New(ctx, otlptracegrpc.WithEndpoint(endpoint), otlptracegrpc.WithInsecure())
	if err != nil {
		return nil, fmt.Errorf("otlp traces: %w", err)
	}
	metrics, err := otlpmetricgrpc.New(ctx, otlpmetricgrpc.WithEndpoint(endpoint), otlpmetricgrpc.WithInsecure())
	if err != nil {
		_ = spans.Shutdown(ctx)
		return nil, fmt.Errorf("otlp metrics: %w", err)
	}
	t.tp = sdktrace.NewTracerProvider(sdktrace.WithBatcher(spans), sdktrace.WithResource(res))
	otel.SetTracerProvider(t.tp)
	return sdkmetric.NewPeriodicReader(metrics, sdkmetric.WithInterval(15*time.Second)), nil
}

func (t *Telemetry) serveMetrics(port int) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", t.MetricsHandler())
	t.metrics = &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := t.metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("[TELEMETRY] metrics listener on :%d stopped: %v", port, err)
		}
	}()
}

// MetricsHandler serves the Prometheus registry.
func (t *Telemetry) MetricsHandler() http.Handler {
	if t == nil || t.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(t.registry, promhttp.HandlerOpts{})
}

// Shutdown stops the metrics listener and flushes both providers.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil {
		return nil
	}
	var errs []error
	if t.metrics != nil {
		errs = append(errs, t.metrics.Shutdown(ctx))
	}
	if t.tp != nil {
		if err := t.tp.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("trace provider: %w", err))
		}
	}
	if t.mp != nil {
		if err := t.mp.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("meter provider: %w", err))
		}
	}
	return errors.Join(errs...)
}
