package emit

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OTelEmitter implements Emitter by creating OpenTelemetry spans.
//
// Each event becomes a span with:
//   - Span name: event.Msg (e.g., "node_start", "suspend")
//   - Attributes: session, step, iteration, node and all event.Meta fields
//   - Status: Set to error if event.Meta["error"] exists
//
// Usage:
//
//	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
//	otel.SetTracerProvider(tp)
//
//	emitter := emit.NewOTelEmitter(otel.Tracer("loopgraph"))
//	engine, err := graph.New(g, bindings, policy, graph.WithEmitter(emitter))
type OTelEmitter struct {
	tracer trace.Tracer
}

// NewOTelEmitter creates a new OTelEmitter.
//
// Example:
//
//	emitter := emit.NewOTelEmitter(otel.Tracer("loopgraph"))
func NewOTelEmitter(tracer trace.Tracer) *OTelEmitter {
	return &OTelEmitter{tracer: tracer}
}

// Emit creates an OpenTelemetry span for the event.
//
// The span is ended immediately: events are points in time, not durations.
// Durations travel as the duration_ms attribute.
func (o *OTelEmitter) Emit(event Event) {
	o.emit(context.Background(), event)
}

// EmitBatch creates one span per event under ctx, which lets callers nest
// a session's events under their own span.
func (o *OTelEmitter) EmitBatch(ctx context.Context, events []Event) error {
	for _, event := range events {
		if err := ctx.Err(); err != nil {
			return err
		}
		o.emit(ctx, event)
	}
	return nil
}

func (o *OTelEmitter) emit(ctx context.Context, event Event) {
	_, span := o.tracer.Start(ctx, event.Msg)
	defer span.End()

	o.addStandardAttributes(span, event)
	o.addMetadataAttributes(span, event.Meta)

	if err, ok := event.Meta["error"].(string); ok {
		span.SetStatus(codes.Error, err)
		span.RecordError(fmt.Errorf("%s", err))
	}
}

// Flush forces export of all pending spans.
//
// OpenTelemetry typically buffers spans in a batch span processor. Call
// Flush before the process exits so suspended sessions are not lost from
// traces.
func (o *OTelEmitter) Flush(ctx context.Context) error {
	tp := otel.GetTracerProvider()

	type flusher interface {
		ForceFlush(context.Context) error
	}

	if f, ok := tp.(flusher); ok {
		return f.ForceFlush(ctx)
	}

	// Provider doesn't support flushing (e.g., noop provider)
	return nil
}

// addStandardAttributes adds core event fields as span attributes.
func (o *OTelEmitter) addStandardAttributes(span trace.Span, event Event) {
	span.SetAttributes(
		attribute.String("loopgraph.session_id", event.SessionID),
		attribute.Int("loopgraph.step", event.Step),
		attribute.Int("loopgraph.iteration", event.Iteration),
		attribute.String("loopgraph.node_id", event.NodeID),
	)
}

// metaAttributeKeys maps well-known metadata keys to namespaced attribute names.
var metaAttributeKeys = map[string]string{
	"tokens_in":     "loopgraph.llm.tokens_in",
	"tokens_out":    "loopgraph.llm.tokens_out",
	"cost_usd":      "loopgraph.llm.cost_usd",
	"model":         "loopgraph.llm.model",
	"duration_ms":   "loopgraph.node.duration_ms",
	"checkpoint_id": "loopgraph.checkpoint_id",
	"history_len":   "loopgraph.history_len",
}

// addMetadataAttributes converts event metadata to span attributes.
//
// Handles common types:
//   - string, int, int64, float64, bool: Direct conversion
//   - time.Duration: Convert to milliseconds
//   - Other types: Convert to string representation
func (o *OTelEmitter) addMetadataAttributes(span trace.Span, meta map[string]interface{}) {
	for key, value := range meta {
		attrKey := key
		if mapped, ok := metaAttributeKeys[key]; ok {
			attrKey = mapped
		}

		switch v := value.(type) {
		case string:
			span.SetAttributes(attribute.String(attrKey, v))
		case int:
			span.SetAttributes(attribute.Int(attrKey, v))
		case int64:
			span.SetAttributes(attribute.Int64(attrKey, v))
		case float64:
			span.SetAttributes(attribute.Float64(attrKey, v))
		case bool:
			span.SetAttributes(attribute.Bool(attrKey, v))
		case time.Duration:
			span.SetAttributes(attribute.Int64(attrKey, int64(v/time.Millisecond)))
		default:
			span.SetAttributes(attribute.String(attrKey, fmt.Sprintf("%v", v)))
		}
	}
}
