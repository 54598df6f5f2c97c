package pipeline

import (
	"context"

	"github.com/mohammad-safakhou/podcaster/internal/queue/streams"
)

// Events receives stage transitions. Failures to emit never fail a pipeline.
type Events interface {
	EmitStage(ctx context.Context, ev streams.StagePayload) error
}

type noopEvents struct{}

func (noopEvents) EmitStage(context.Context, streams.StagePayload) error { return nil }

// NoopEvents discards every transition.
var NoopEvents Events = noopEvents{}
