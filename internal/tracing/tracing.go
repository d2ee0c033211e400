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

var tracer oteltrace.Tracer

// Config holds tracing configuration
type Config struct {
	Enabled      bool   `mapstructure:"enabled"`
	ServiceName  string `mapstructure:"service_name"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
}

// Initialize sets up minimal OTLP tracing. A tracer handle is always
// created, even when the provider is disabled, so the Start* helpers
// never panic.
func Initialize(cfg Config, logger *zap.Logger) error {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "inkwell-orchestrator"
	}
	tracer = otel.Tracer(cfg.ServiceName)

	if !cfg.Enabled {
		logger.Info("Tracing disabled")
		return nil
	}

	if cfg.OTLPEndpoint == "" {
		cfg.OTLPEndpoint = "localhost:4317"
	}

	exporter, err := otlptracegrpc.New(
		context.Background(),
		otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
		),
	)
	if err != nil {
		return fmt.Errorf("failed to create resource: %w", err)
	}

	tp := trace.NewTracerProvider(
		trace.WithBatcher(exporter),
		trace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	tracer = otel.Tracer(cfg.ServiceName)

	logger.Info("Tracing initialized", zap.String("endpoint", cfg.OTLPEndpoint))
	return nil
}

// StartNodeSpan starts a span covering one workflow node execution.
func StartNodeSpan(ctx context.Context, taskID, nodeID string) (context.Context, oteltrace.Span) {
	if tracer == nil {
		tracer = otel.Tracer("inkwell-orchestrator")
	}
	return tracer.Start(ctx, "workflow.node",
		oteltrace.WithAttributes(
			attribute.String("task.id", taskID),
			attribute.String("node.id", nodeID),
		),
	)
}

// StartProviderSpan starts a span covering one provider call attempt.
func StartProviderSpan(ctx context.Context, capability, endpointID string) (context.Context, oteltrace.Span) {
	if tracer == nil {
		tracer = otel.Tracer("inkwell-orchestrator")
	}
	return tracer.Start(ctx, "provider.call",
		oteltrace.WithAttributes(
			attribute.String("provider.capability", capability),
			attribute.String("provider.endpoint", endpointID),
		),
	)
}
