package streams

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Event types carried on the podcast streams.
const (
	EventStage        = "pipeline.stage"
	EventJobRequested = "podcast.job.requested"
	EventJobCompleted = "podcast.job.completed"
	EventJobFailed    = "podcast.job.failed"

	PayloadVersionV1 = "v1"
)

const (
	StageStatusStarted   = "started"
	StageStatusCompleted = "completed"
	StageStatusFailed    = "failed"
)

// IdentityPayload is a host or guest override carried by a job.
type IdentityPayload struct {
	Name       string `json:"name"`
	Background string `json:"background,omitempty"`
}

// JobRequestedPayload asks a worker to run one pipeline.
type JobRequestedPayload struct {
	JobID       string           `json:"job_id"`
	Source      string           `json:"source"`
	Reference   string           `json:"reference"`
	Instruction string           `json:"instruction,omitempty"`
	MaxAnalysts int              `json:"max_analysts,omitempty"`
	Host        *IdentityPayload `json:"host,omitempty"`
	Guest       *IdentityPayload `json:"guest,omitempty"`
}

// JobCompletedPayload reports a persisted script.
type JobCompletedPayload struct {
	JobID    string `json:"job_id"`
	ScriptID string `json:"script_id"`
	Title    string `json:"title"`
	Lines    int    `json:"lines"`
}

// JobFailedPayload reports a job that ended with an error.
type JobFailedPayload struct {
	JobID string `json:"job_id"`
	Stage string `json:"stage,omitempty"`
	Error string `json:"error"`
}

// StagePayload is one pipeline stage transition.
type StagePayload struct {
	PipelineID string `json:"pipeline_id"`
	Pipeline   string `json:"pipeline"`
	Stage      string `json:"stage"`
	Status     string `json:"status"`
	DurationMS int64  `json:"duration_ms,omitempty"`
	Error      string `json:"error,omitempty"`
}

// StageEmitter publishes pipeline stage transitions to the events stream.
type StageEmitter struct {
	publisher *Publisher
	stream    string
}

func NewStageEmitter(publisher *Publisher, stream string) *StageEmitter {
	return &StageEmitter{publisher: publisher, stream: stream}
}

func (e *StageEmitter) EmitStage(ctx context.Context, ev StagePayload) error {
	if e == nil || e.publisher == nil {
		return nil
	}
	_, err := e.publisher.PublishRaw(ctx, e.stream, EventStage, PayloadVersionV1, ev)
	return err
}

// JobQueue enqueues and settles podcast jobs.
type JobQueue struct {
	publisher    *Publisher
	jobsStream   string
	eventsStream string
}

func NewJobQueue(publisher *Publisher, jobsStream, eventsStream string) *JobQueue {
	return &JobQueue{publisher: publisher, jobsStream: jobsStream, eventsStream: eventsStream}
}

// Enqueue publishes a job request and returns the stream entry ID.
func (q *JobQueue) Enqueue(ctx context.Context, job JobRequestedPayload) (string, error) {
	job.Source = strings.ToLower(strings.TrimSpace(job.Source))
	if job.JobID == "" {
		return "", fmt.Errorf("job_id is required")
	}
	return q.publisher.PublishRaw(ctx, q.jobsStream, EventJobRequested, PayloadVersionV1, job)
}

func (q *JobQueue) Completed(ctx context.Context, done JobCompletedPayload) error {
	_, err := q.publisher.PublishRaw(ctx, q.eventsStream, EventJobCompleted, PayloadVersionV1, done)
	return err
}

func (q *JobQueue) Failed(ctx context.Context, failed JobFailedPayload) error {
	_, err := q.publisher.PublishRaw(ctx, q.eventsStream, EventJobFailed, PayloadVersionV1, failed)
	return err
}

// StageDuration converts a stage duration to the millisecond field.
func StageDuration(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	return d.Milliseconds()
}
