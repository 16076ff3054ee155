// Package telemetry records pipeline counters via the global OTel meter.
package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	initOnce sync.Once

	sentCounter    metric.Int64Counter
	droppedCounter metric.Int64Counter
	framesCounter  metric.Int64Counter
	storedCounter  metric.Int64Counter
	skippedCounter metric.Int64Counter
	flushCounter   metric.Int64Counter
)

func counters() {
	initOnce.Do(func() {
		meter := otel.Meter("groundfault.pipeline")
		sentCounter, _ = meter.Int64Counter("groundfault_envelopes_sent_total",
			metric.WithDescription("Envelopes handed to the transport by producers"),
			metric.WithUnit("{envelope}"))
		droppedCounter, _ = meter.Int64Counter("groundfault_envelopes_dropped_total",
			metric.WithDescription("Envelopes dropped before reaching the transport"),
			metric.WithUnit("{envelope}"))
		framesCounter, _ = meter.Int64Counter("groundfault_frames_received_total",
			metric.WithDescription("Wire frames drained from the transport by the recorder"),
			metric.WithUnit("{frame}"))
		storedCounter, _ = meter.Int64Counter("groundfault_events_stored_total",
			metric.WithDescription("Events folded into the store"),
			metric.WithUnit("{event}"))
		skippedCounter, _ = meter.Int64Counter("groundfault_envelopes_skipped_total",
			metric.WithDescription("Envelopes skipped due to decode or store failures"),
			metric.WithUnit("{envelope}"))
		flushCounter, _ = meter.Int64Counter("groundfault_flushes_total",
			metric.WithDescription("Store flushes"),
			metric.WithUnit("{flush}"))
	})
}

// EnvelopeSent counts a successful producer-side transport handoff.
func EnvelopeSent(ctx context.Context) {
	counters()
	if sentCounter != nil {
		sentCounter.Add(ctx, 1)
	}
}

// EnvelopeDropped counts a producer-side drop with its reason.
func EnvelopeDropped(ctx context.Context, reason string) {
	counters()
	if droppedCounter != nil {
		droppedCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
	}
}

// FrameReceived counts a frame drained from the transport.
func FrameReceived(ctx context.Context) {
	counters()
	if framesCounter != nil {
		framesCounter.Add(ctx, 1)
	}
}

// EventStored counts a persisted event by type.
func EventStored(ctx context.Context, eventType string) {
	counters()
	if storedCounter != nil {
		storedCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("event_type", eventType)))
	}
}

// EnvelopeSkipped counts a skipped envelope with its reason.
func EnvelopeSkipped(ctx context.Context, reason string) {
	counters()
	if skippedCounter != nil {
		skippedCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
	}
}

// FlushRecorded counts one flush attempt and its result.
func FlushRecorded(ctx context.Context, result string) {
	counters()
	if flushCounter != nil {
		flushCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
	}
}
