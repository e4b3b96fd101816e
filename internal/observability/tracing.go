package observability

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
)

// TracerConfig holds tracer configuration
type TracerConfig struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	Endpoint       string
	Enabled        bool
	SampleRate     float64 // 0.0 - 1.0
}

// InitTracer initializes OpenTelemetry tracing with OTLP exporter
func InitTracer(config TracerConfig) (trace.TracerProvider, io.Closer, error) {
	if !config.Enabled {
		log.Info().Msg("Distributed tracing is disabled")
		return trace.NewNoopTracerProvider(), io.NopCloser(nil), nil
	}

	ctx := context.Background()

	// Create OTLP exporter (compatible with Jaeger, Grafana Tempo, etc.)
	exp, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(config.Endpoint),
		otlptracegrpc.WithInsecure(), // Use WithTLSCredentials() for production
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	// Create resource with service information
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
			attribute.String("environment", config.Environment),
		),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create resource: %w", err)
	}

	// Create sampler based on sample rate
	var sampler tracesdk.Sampler
	if config.SampleRate >= 1.0 {
		sampler = tracesdk.AlwaysSample()
	} else if config.SampleRate <= 0.0 {
		sampler = tracesdk.NeverSample()
	} else {
		sampler = tracesdk.TraceIDRatioBased(config.SampleRate)
	}

	// Create trace provider
	tp := tracesdk.NewTracerProvider(
		tracesdk.WithBatcher(exp),
		tracesdk.WithResource(res),
		tracesdk.WithSampler(sampler),
	)

	// Set global tracer provider
	otel.SetTracerProvider(tp)

	// Set global propagator for context propagation
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	log.Info().
		Str("service", config.ServiceName).
		Str("endpoint", config.Endpoint).
		Float64("sample_rate", config.SampleRate).
		Msg("Distributed tracing initialized with OTLP")

	// Return closer for graceful shutdown
	closer := &tracerCloser{tp: tp}
	return tp, closer, nil
}

// tracerCloser implements io.Closer for tracer provider
type tracerCloser struct {
	tp *tracesdk.TracerProvider
}

func (c *tracerCloser) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return c.tp.Shutdown(ctx)
}

// Tracer wraps OpenTelemetry tracer with convenience methods
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer creates a new tracer
func NewTracer(name string) *Tracer {
	return &Tracer{
		tracer: otel.Tracer(name),
	}
}

// NewTracerWithProvider creates a tracer from an explicit provider
func NewTracerWithProvider(tp trace.TracerProvider, name string) *Tracer {
	return &Tracer{
		tracer: tp.Tracer(name),
	}
}

// StartSpan starts a new span
func (t *Tracer) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// StartSpanWithKind starts a new span with specific kind
func (t *Tracer) StartSpanWithKind(ctx context.Context, name string, kind trace.SpanKind, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name,
		trace.WithSpanKind(kind),
		trace.WithAttributes(attrs...),
	)
}

// AddEvent adds an event to the current span
func AddEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.AddEvent(name, trace.WithAttributes(attrs...))
	}
}

// SetAttributes sets attributes on the current span
func SetAttributes(ctx context.Context, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.SetAttributes(attrs...)
	}
}

// RecordError records an error on the current span
func RecordError(ctx context.Context, err error, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.RecordError(err, trace.WithAttributes(attrs...))
	}
}

// SetStatus sets the status of the current span
func SetStatus(ctx context.Context, code codes.Code, description string) {
	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.SetStatus(code, description)
	}
}

// Common attribute keys
var (
	// Corridor attributes
	AttrCorridorID       = attribute.Key("corridor.id")
	AttrSettlementMethod = attribute.Key("corridor.method")
	AttrChargeBearer     = attribute.Key("corridor.charge_bearer")
	AttrPrincipal        = attribute.Key("corridor.principal")
	AttrStepCount        = attribute.Key("corridor.steps")

	// Session attributes
	AttrSessionID = attribute.Key("session.id")
	AttrCommand   = attribute.Key("session.command")
	AttrCursor    = attribute.Key("session.cursor")

	// Message attributes
	AttrMessageType = attribute.Key("message.type")
	AttrStepID      = attribute.Key("message.step_id")

	// Export attributes
	AttrExportFormat = attribute.Key("export.format")
	AttrExportType   = attribute.Key("export.type")
)

// Helper functions for common span operations

// TraceSimulation creates a span for one corridor simulation
func TraceSimulation(ctx context.Context, tracer *Tracer, corridorID, method, bearer, principal string) (context.Context, trace.Span) {
	return tracer.StartSpan(ctx, "corridor.simulate",
		AttrCorridorID.String(corridorID),
		AttrSettlementMethod.String(method),
		AttrChargeBearer.String(bearer),
		AttrPrincipal.String(principal),
	)
}

// TraceSessionCommand creates a span for a session command such as next or jump
func TraceSessionCommand(ctx context.Context, tracer *Tracer, sessionID, command string) (context.Context, trace.Span) {
	return tracer.StartSpan(ctx, "session."+command,
		AttrSessionID.String(sessionID),
		AttrCommand.String(command),
	)
}

// TraceMTRender creates a span for rendering steps as MT messages
func TraceMTRender(ctx context.Context, tracer *Tracer, corridorID, method string) (context.Context, trace.Span) {
	return tracer.StartSpan(ctx, "swift.render",
		AttrCorridorID.String(corridorID),
		AttrSettlementMethod.String(method),
	)
}

// TraceExport creates a span for an audit export
func TraceExport(ctx context.Context, tracer *Tracer, reportType, format string) (context.Context, trace.Span) {
	return tracer.StartSpanWithKind(ctx, "audit.export", trace.SpanKindInternal,
		AttrExportType.String(reportType),
		AttrExportFormat.String(format),
	)
}
