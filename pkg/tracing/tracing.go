// Package tracing wires the Agent Loop into OpenTelemetry: one span per
// loop iteration, exported via OTLP/gRPC when an endpoint is configured.
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

var tracer trace.Tracer = otel.Tracer("loomgate/agent")

// Init configures the global tracer provider. When endpoint is empty,
// tracing stays a no-op (the default global provider).
func Init(ctx context.Context, serviceName, endpoint string) (func(context.Context) error, error) {
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}

	exp, err := otlptracegrpc.New(ctx, otlptracegrpc.WithEndpoint(endpoint), otlptracegrpc.WithInsecure())
	if err != nil {
		return nil, fmt.Errorf("tracing: new otlp exporter: %w", err)
	}

	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(serviceName)))
	if err != nil {
		return nil, fmt.Errorf("tracing: build resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	tracer = tp.Tracer("loomgate/agent")

	return tp.Shutdown, nil
}

// StartIteration starts a span representing one Agent Loop iteration.
func StartIteration(ctx context.Context, sessionKey string, n int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "agent.iteration",
		trace.WithAttributes(
			attribute.String("session_key", sessionKey),
			attribute.Int("iteration", n),
		),
	)
}

// StartToolCall starts a span representing one tool invocation.
func StartToolCall(ctx context.Context, toolName string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "agent.tool_call", trace.WithAttributes(attribute.String("tool.name", toolName)))
}
