package streams

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
)

var (
	streamMetricsOnce sync.Once
	eventsPublished   otelmetric.Int64Counter
	jobsRequested     otelmetric.Int64Counter
	stageTransitions  otelmetric.Int64Counter
	entriesDropped    otelmetric.Int64Counter
)

func initStreamMetrics() {
	meter := otel.Meter("podcaster/queue/streams")
	var err error
	eventsPublished, err = meter.Int64Counter(
		"podcaster_stream_events_published_total",
		otelmetric.WithDescription("Envelopes appended to Redis streams by event type"),
	)
	if err != nil {
		log.Printf("queue streams metrics init: podcaster_stream_events_published_total: %v", err)
	}
	jobsRequested, err = meter.Int64Counter(
		"podcaster_jobs_requested_total",
		otelmetric.WithDescription("Podcast jobs enqueued by source kind"),
	)
	if err != nil {
		log.Printf("queue streams metrics init: podcaster_jobs_requested_total: %v", err)
	}
	stageTransitions, err = meter.Int64Counter(
		"podcaster_stage_transitions_total",
		otelmetric.WithDescription("Pipeline stage transitions published to the events stream"),
	)
	if err != nil {
		log.Printf("queue streams metrics init: podcaster_stage_transitions_total: %v", err)
	}
	entriesDropped, err = meter.Int64Counter(
		"podcaster_stream_entries_dropped_total",
		otelmetric.WithDescription("Stream entries acked without delivery because they could not be decoded"),
	)
	if err != nil {
		log.Printf("queue streams metrics init: podcaster_stream_entries_dropped_total: %v", err)
	}
}

func recordPublished(ctx context.Context, eventType string, payload []byte) {
	streamMetricsOnce.Do(initStreamMetrics)
	ctx = contextOrBackground(ctx)
	if eventsPublished != nil {
		eventsPublished.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("event_type", eventType)))
	}
	switch eventType {
	case EventJobRequested:
		var job JobRequestedPayload
		if jobsRequested == nil || json.Unmarshal(payload, &job) != nil {
			return
		}
		jobsRequested.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("source", job.Source)))
	case EventStage:
		var st StagePayload
		if stageTransitions == nil || json.Unmarshal(payload, &st) != nil {
			return
		}
		stageTransitions.Add(ctx, 1, otelmetric.WithAttributes(
			attribute.String("pipeline", st.Pipeline),
			attribute.String("stage", st.Stage),
			attribute.String("status", st.Status),
		))
	}
}

func recordDropped(ctx context.Context, stream, reason string) {
	streamMetricsOnce.Do(initStreamMetrics)
	if entriesDropped == nil {
		return
	}
	entriesDropped.Add(contextOrBackground(ctx), 1, otelmetric.WithAttributes(
		attribute.String("stream", stream),
		attribute.String("reason", reason),
	))
}

func contextOrBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
