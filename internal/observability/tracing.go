package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "github.com/PaulBabatuyi/ImageDrop"

// InitTracerProvider initializes OpenTelemetry tracing with stdout exporter
// and installs it as the global provider.
func InitTracerProvider(ctx context.Context, logger *zap.Logger) (*trace.TracerProvider, error) {
	// Create stdout exporter for development (swap to Jaeger for production)
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		logger.Error("failed to create trace exporter", zap.Error(err))
		return nil, err
	}

	tp := trace.NewTracerProvider(
		trace.WithBatcher(exporter),
	)
	otel.SetTracerProvider(tp)

	if err := tp.ForceFlush(ctx); err != nil {
		logger.Error("failed to flush traces", zap.Error(err))
	}

	return tp, nil
}

// ShutdownTracerProvider gracefully shuts down the tracer provider
func ShutdownTracerProvider(ctx context.Context, tp *trace.TracerProvider, logger *zap.Logger) {
	if err := tp.Shutdown(ctx); err != nil {
		logger.Error("failed to shutdown tracer provider", zap.Error(err))
	}
}

// Tracer returns the service tracer. Without InitTracerProvider it is a no-op.
func Tracer() oteltrace.Tracer {
	return otel.Tracer(tracerName)
}
