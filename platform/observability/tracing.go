// Package observability configures OpenTelemetry tracing for the binaries.
package observability

import (
	"context"
	"strings"
	"time"

	"permit_portal_backend/platform/config"
	"permit_portal_backend/platform/logger"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.27.0"
)

// InitTracing installs a global tracer provider. Without an OTLP endpoint
// spans are still created (so trace ids reach the logs) but never exported.
// The returned function flushes and stops the provider.
func InitTracing(ctx context.Context, cfg config.TracingConfig, log *logger.Logger) func(context.Context) error {
	serviceName := strings.TrimSpace(cfg.GetOTelServiceName())
	if serviceName == "" {
		serviceName = "permit-stages"
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			attribute.String("deployment.environment", cfg.GetEnv()),
		),
	)
	if err != nil {
		log.Warn("otel resource init failed (continuing)", "error", err)
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.AlwaysSample())),
		sdktrace.WithResource(res),
	}

	if endpoint := strings.TrimSpace(cfg.GetOTelEndpoint()); endpoint != "" {
		exporter, expErr := otlptracehttp.New(ctx, exporterOptions(endpoint)...)
		if expErr != nil {
			log.Warn("otel exporter init failed (continuing)", "error", expErr)
		} else {
			opts = append(opts, sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(5*time.Second)))
		}
	}

	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	log.Info("otel tracing initialized", "service", serviceName, "endpoint", cfg.GetOTelEndpoint())
	return tp.Shutdown
}

func exporterOptions(endpoint string) []otlptracehttp.Option {
	if strings.Contains(endpoint, "://") {
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpointURL(endpoint)}
		if strings.HasPrefix(endpoint, "http://") {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		return opts
	}
	return []otlptracehttp.Option{otlptracehttp.WithEndpoint(endpoint)}
}
