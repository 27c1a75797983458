package tracing

import (
	"context"
	"fmt"
	"strings"

	"meshbridge/internal/constants"
	"meshbridge/internal/models"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	oteltrace "go.opentelemetry.io/otel/trace"
)

const instrumentationName = "meshbridge"

// Span attribute keys
const (
	AttrMessageID      = attribute.Key("message.id")
	AttrMessageType    = attribute.Key("message.type")
	AttrDeliveryMethod = attribute.Key("delivery.method")
	AttrDeliveryStatus = attribute.Key("delivery.status")
	AttrRetryCount     = attribute.Key("delivery.retry_count")
	AttrWinner         = attribute.Key("delivery.winner")
)

// DefaultTracingConfig returns sensible defaults
func DefaultTracingConfig() models.TracingConfig {
	return models.TracingConfig{
		ServiceName:    "meshbridge",
		ServiceVersion: "dev",
		Environment:    "development",
		OTLPEndpoint:   "http://localhost:4318/v1/traces",
		SampleRate:     0.1,
		Enabled:        false,
		UseStdout:      true,
	}
}

// TracingManager manages OpenTelemetry setup and lifecycle
type TracingManager struct {
	config         models.TracingConfig
	logger         *logrus.Logger
	tracerProvider *trace.TracerProvider
}

func NewTracingManager(config models.TracingConfig, logger *logrus.Logger) *TracingManager {
	return &TracingManager{config: config, logger: logger}
}

// Initialize installs the global tracer provider. It is a no-op when disabled.
func (tm *TracingManager) Initialize(ctx context.Context) error {
	if !tm.config.Enabled {
		tm.logger.Info("OpenTelemetry tracing is disabled")
		return nil
	}
	if tm.config.ServiceName == "" {
		return fmt.Errorf("tracing service_name is required")
	}
	if tm.config.SampleRate < 0 || tm.config.SampleRate > 1 {
		return fmt.Errorf("tracing sample_rate must be between 0 and 1, got %v", tm.config.SampleRate)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(tm.config.ServiceName),
			semconv.ServiceVersionKey.String(tm.config.ServiceVersion),
			semconv.DeploymentEnvironmentKey.String(tm.config.Environment),
		),
	)
	if err != nil {
		return fmt.Errorf("failed to create resource: %w", err)
	}

	exporter, err := tm.newExporter(ctx)
	if err != nil {
		return err
	}

	tm.tracerProvider = trace.NewTracerProvider(
		trace.WithBatcher(exporter),
		trace.WithResource(res),
		trace.WithSampler(trace.ParentBased(trace.TraceIDRatioBased(tm.config.SampleRate))),
	)
	otel.SetTracerProvider(tm.tracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	tm.logger.WithFields(logrus.Fields{
		"service":     tm.config.ServiceName,
		"sample_rate": tm.config.SampleRate,
	}).Info("OpenTelemetry tracing initialized")
	return nil
}

func (tm *TracingManager) newExporter(ctx context.Context) (trace.SpanExporter, error) {
	if tm.config.UseStdout {
		exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("failed to create stdout exporter: %w", err)
		}
		tm.logger.Info("Using stdout trace exporter")
		return exporter, nil
	}

	var opt otlptracehttp.Option
	if strings.Contains(tm.config.OTLPEndpoint, "://") {
		opt = otlptracehttp.WithEndpointURL(tm.config.OTLPEndpoint)
	} else {
		opt = otlptracehttp.WithEndpoint(tm.config.OTLPEndpoint)
	}
	exporter, err := otlptracehttp.New(ctx, opt, otlptracehttp.WithInsecure())
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP HTTP exporter: %w", err)
	}
	tm.logger.WithField("endpoint", tm.config.OTLPEndpoint).Info("Using OTLP HTTP trace exporter")
	return exporter, nil
}

// Shutdown flushes and stops the tracer provider
func (tm *TracingManager) Shutdown(ctx context.Context) error {
	if tm.tracerProvider == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, constants.TracingShutdownTimeout)
	defer cancel()

	if err := tm.tracerProvider.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown tracer provider: %w", err)
	}
	tm.tracerProvider = nil
	tm.logger.Info("OpenTelemetry tracing shutdown completed")
	return nil
}

// StartSpan starts a span on the global tracer provider
func StartSpan(ctx context.Context, spanName string, attributes ...attribute.KeyValue) (context.Context, oteltrace.Span) {
	return otel.Tracer(instrumentationName).Start(ctx, spanName, oteltrace.WithAttributes(attributes...))
}

// AddSpanAttributes adds attributes to the current span
func AddSpanAttributes(ctx context.Context, attributes ...attribute.KeyValue) {
	span := oteltrace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.SetAttributes(attributes...)
	}
}

// RecordError records an error on the current span and marks it failed
func RecordError(ctx context.Context, err error, attributes ...attribute.KeyValue) {
	span := oteltrace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.RecordError(err, oteltrace.WithAttributes(attributes...))
		span.SetStatus(codes.Error, err.Error())
	}
}

// GetOtelTraceID returns the OpenTelemetry trace ID in ctx, if any
func GetOtelTraceID(ctx context.Context) string {
	sc := oteltrace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}

// MessageAttributes describes a message on a span.
func MessageAttributes(msg *models.UnifiedMessage) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrMessageID.String(msg.ID),
		AttrMessageType.String(string(msg.Type)),
		AttrDeliveryMethod.String(string(msg.DeliveryMethod)),
		AttrRetryCount.Int(msg.RetryCount),
	}
}
