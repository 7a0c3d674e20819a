package tracing

import (
	"context"
	"os"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const tracerName = "github.com/alphagov/pay-connector-sub019"

// Config configures the tracer provider and OTLP exporter.
type Config struct {
	Enabled          bool
	ServiceName      string
	Environment      string
	ExporterEndpoint string
	SamplingRatio    float64
}

// ConfigFromEnv reads tracing settings from the environment.
func ConfigFromEnv() Config {
	ratio, err := strconv.ParseFloat(os.Getenv("TRACING_SAMPLING_RATIO"), 64)
	if err != nil {
		ratio = 0.1
	}
	return Config{
		Enabled:          os.Getenv("TRACING_ENABLED") == "true",
		ServiceName:      "pay-connector",
		Environment:      os.Getenv("ENVIRONMENT"),
		ExporterEndpoint: os.Getenv("OTLP_ENDPOINT"),
		SamplingRatio:    ratio,
	}
}

// NewProvider configures an OpenTelemetry tracer provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (*sdktrace.TracerProvider, error) {
	if !cfg.Enabled {
		otel.SetTracerProvider(noop.NewTracerProvider())
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	opts := []otlptracehttp.Option{}
	if endpoint := strings.TrimSpace(cfg.ExporterEndpoint); endpoint != "" {
		opts = append(opts, otlptracehttp.WithEndpoint(endpoint))
	}
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, err
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			attribute.String("service.name", cfg.ServiceName),
			attribute.String("deployment.environment", cfg.Environment),
		),
	)
	if err != nil {
		return nil, err
	}

	sampler := sdktrace.ParentBased(sdktrace.TraceIDRatioBased(clampRatio(cfg.SamplingRatio)))
	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)
	otel.SetTracerProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down tracer provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	return provider, nil
}

// Start opens a span on the connector tracer.
func Start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, name)
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	return ctx, span
}

func clampRatio(value float64) float64 {
	if value <= 0 {
		return 0.1
	}
	if value > 1 {
		return 1
	}
	return value
}

var Module = fx.Module("observability.tracing",
	fx.Provide(ConfigFromEnv),
	fx.Provide(NewProvider),
	// Providers are lazy; force construction so the global tracer is set.
	fx.Invoke(func(*sdktrace.TracerProvider) {}),
)
