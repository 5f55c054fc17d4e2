// Package tracing sets up optional OTLP tracing of a session: one root
// span per query with child spans per stage and per lookup. Disabled by
// default; the Start helpers degrade to no-op spans when no provider is
// configured.
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.27.0"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const serviceName = "scour"

var tracer oteltrace.Tracer = otel.Tracer(serviceName)

// Shutdown flushes and stops the provider; no-op when tracing is off.
type Shutdown func(context.Context) error

// Initialize wires the OTLP exporter when enabled. The tracer handle is
// always valid, so span helpers never panic with tracing off.
func Initialize(enabled bool, endpoint string, logger *zap.Logger) (Shutdown, error) {
	if !enabled {
		logger.Debug("Tracing disabled")
		return func(context.Context) error { return nil }, nil
	}
	if endpoint == "" {
		endpoint = "localhost:4317"
	}

	exporter, err := otlptracegrpc.New(
		context.Background(),
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("create OTLP exporter: %w", err)
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	tp := trace.NewTracerProvider(
		trace.WithBatcher(exporter),
		trace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	tracer = otel.Tracer(serviceName)

	logger.Info("Tracing initialized", zap.String("endpoint", endpoint))
	return tp.Shutdown, nil
}

// StartSession opens the root span for one query.
func StartSession(ctx context.Context, sessionID, query string) (context.Context, oteltrace.Span) {
	ctx, span := tracer.Start(ctx, "scour.session")
	span.SetAttributes(
		attribute.String("session.id", sessionID),
		attribute.String("session.query", query),
	)
	return ctx, span
}

// StartStage opens a span for one pipeline stage ("stage1", "stage2",
// "synthesis").
func StartStage(ctx context.Context, stage string) (context.Context, oteltrace.Span) {
	return tracer.Start(ctx, "scour."+stage)
}

// StartLookup opens a span for one source lookup.
func StartLookup(ctx context.Context, source string) (context.Context, oteltrace.Span) {
	ctx, span := tracer.Start(ctx, "scour.lookup")
	span.SetAttributes(attribute.String("source", source))
	return ctx, span
}
