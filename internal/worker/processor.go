package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/mohammad-safakhou/podcaster/internal/agent/core"
	"github.com/mohammad-safakhou/podcaster/internal/agent/pipeline"
	"github.com/mohammad-safakhou/podcaster/internal/queue/streams"
	"github.com/mohammad-safakhou/podcaster/internal/store"
)

// StoreAPI captures the store methods required by the worker.
type StoreAPI interface {
	ClaimIdempotency(ctx context.Context, scope, key string) (bool, error)
	SaveJob(ctx context.Context, job store.JobRecord) error
	GetJob(ctx context.Context, id string) (store.JobRecord, bool, error)
	UpdateJobStatus(ctx context.Context, id, status, scriptID, stage, errMsg string) error
	SaveScript(ctx context.Context, res *core.ScriptResult) error
}

// Pipelines runs the generation pipelines.
type Pipelines interface {
	FromPrompt(ctx context.Context, in pipeline.PromptInput) (*core.ScriptResult, error)
	FromPDF(ctx context.Context, in pipeline.PDFInput) (*core.ScriptResult, error)
	FromArxiv(ctx context.Context, in pipeline.ArxivInput) (*core.ScriptResult, error)
}

// Options tune the consume loop.
type Options struct {
	Block       time.Duration // XREADGROUP block, default 5s
	Count       int64         // entries per read, default 4
	ReclaimIdle time.Duration // pending entries idle this long are taken over, checked at start and every ReclaimIdle; 0 disables
}

// Processor consumes podcast.job.requested entries and runs one pipeline per job.
type Processor struct {
	logger      *log.Logger
	store       StoreAPI
	consumer    *streams.Consumer
	queue       *streams.JobQueue
	pipelines   Pipelines
	jobsStream  string
	opts        Options
	tracer      trace.Tracer
	jobCounter  otelmetric.Int64Counter
	jobDuration otelmetric.Float64Histogram
}

// NewProcessor constructs a Processor.
func NewProcessor(logger *log.Logger, st StoreAPI, pipelines Pipelines, cons *streams.Consumer, queue *streams.JobQueue, jobsStream string, opts Options, meter otelmetric.Meter, tracer trace.Tracer) *Processor {
	if logger == nil {
		logger = log.New(log.Writer(), "[WORKER] ", log.LstdFlags)
	}
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("worker")
	}
	if opts.Block <= 0 {
		opts.Block = 5 * time.Second
	}
	if opts.Count <= 0 {
		opts.Count = 4
	}
	proc := &Processor{
		logger:     logger,
		store:      st,
		consumer:   cons,
		queue:      queue,
		pipelines:  pipelines,
		jobsStream: jobsStream,
		opts:       opts,
		tracer:     tracer,
	}
	if meter != nil {
		var err error
		proc.jobCounter, err = meter.Int64Counter("podcaster_worker_jobs_total")
		if err != nil {
			logger.Printf("warn: create job counter failed: %v", err)
		}
		proc.jobDuration, err = meter.Float64Histogram("podcaster_worker_job_seconds", otelmetric.WithUnit("s"))
		if err != nil {
			logger.Printf("warn: create job duration failed: %v", err)
		}
		if cons != nil {
			_, err = meter.Int64ObservableGauge("podcaster_worker_backlog",
				otelmetric.WithDescription("Jobs pending or undelivered for this worker's consumer group"),
				otelmetric.WithInt64Callback(proc.observeBacklog))
			if err != nil {
				logger.Printf("warn: create backlog gauge failed: %v", err)
			}
		}
	}
	return proc
}

func (p *Processor) observeBacklog(ctx context.Context, o otelmetric.Int64Observer) error {
	b, err := p.consumer.Backlog(ctx, p.jobsStream)
	if err != nil {
		return err
	}
	o.Observe(b.Pending, otelmetric.WithAttributes(attribute.String("state", "pending")))
	if b.Undelivered >= 0 {
		o.Observe(b.Undelivered, otelmetric.WithAttributes(attribute.String("state", "undelivered")))
	}
	return nil
}

// Start blocks, processing jobs until the context is cancelled.
func (p *Processor) Start(ctx context.Context) error {
	p.logger.Printf("worker %s consuming stream %s", p.consumer.Name(), p.jobsStream)
	if p.opts.ReclaimIdle > 0 {
		if err := p.reclaim(ctx); err != nil {
			p.logger.Printf("warn: reclaim pending jobs failed: %v", err)
		}
	}
	lastReclaim := time.Now()

	for {
		select {
		case <-ctx.Done():
			p.logger.Printf("worker stopping: %v", ctx.Err())
			return nil
		default:
		}

		msgs, err := p.consumer.Read(ctx, p.jobsStream, streams.Batch{Count: p.opts.Count, Block: p.opts.Block})
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.logger.Printf("error reading stream: %v", err)
			time.Sleep(time.Second)
			continue
		}
		for _, msg := range msgs {
			p.process(ctx, msg, true)
		}
		if p.opts.ReclaimIdle > 0 && time.Since(lastReclaim) >= p.opts.ReclaimIdle {
			if err := p.reclaim(ctx); err != nil && ctx.Err() == nil {
				p.logger.Printf("warn: reclaim pending jobs failed: %v", err)
			}
			lastReclaim = time.Now()
		}
	}
}

// reclaim takes over jobs left pending by a consumer that died mid-run.
func (p *Processor) reclaim(ctx context.Context) error {
	start := "0-0"
	for {
		msgs, next, err := p.consumer.AutoClaim(ctx, p.jobsStream, p.opts.ReclaimIdle, start, p.opts.Count)
		if err != nil {
			return err
		}
		for _, msg := range msgs {
			p.logger.Printf("reclaimed job entry %s", msg.ID)
			p.process(ctx, msg, false)
		}
		if next == "" || next == "0-0" || len(msgs) == 0 {
			return nil
		}
		start = next
	}
}

// process handles one entry and acks it. Fresh deliveries are deduplicated by
// event ID; reclaimed ones are skipped only when the job already settled.
// A store failure before the pipeline starts keeps the entry pending when
// reclaim is enabled and fails the job otherwise.
func (p *Processor) process(ctx context.Context, msg streams.Message, fresh bool) {
	err := p.handleJob(ctx, msg, fresh)
	var early *notStartedError
	if errors.As(err, &early) {
		if p.opts.ReclaimIdle > 0 {
			// left pending; the next reclaim pass retries it
			p.logger.Printf("job %s not started, keeping entry %s pending: %v", early.jobID, msg.ID, early.err)
			return
		}
		err = p.fail(context.WithoutCancel(ctx), early.jobID, early.err)
	}
	if err != nil {
		p.logger.Printf("error handling job message %s: %v", msg.ID, err)
	}
	if err := p.consumer.Ack(context.WithoutCancel(ctx), p.jobsStream, msg.ID); err != nil {
		p.logger.Printf("warn: failed to ack message %s: %v", msg.ID, err)
	}
}

// notStartedError is a store failure hit before the pipeline ran.
type notStartedError struct {
	jobID string
	err   error
}

func (e *notStartedError) Error() string { return e.err.Error() }
func (e *notStartedError) Unwrap() error { return e.err }

func (p *Processor) handleJob(ctx context.Context, msg streams.Message, fresh bool) error {
	ctx, span := p.tracer.Start(ctx, "worker.handle_job")
	defer span.End()

	var job streams.JobRequestedPayload
	if err := msg.Envelope.Decode(&job); err != nil {
		return err
	}
	span.SetAttributes(attribute.String("job.id", job.JobID), attribute.String("job.source", job.Source))

	if fresh {
		claimed, err := p.store.ClaimIdempotency(ctx, msg.Envelope.EventType, msg.Envelope.EventID)
		if err != nil {
			return &notStartedError{jobID: job.JobID, err: fmt.Errorf("claim idempotency: %w", err)}
		}
		if !claimed {
			p.logger.Printf("skip event %s, already processed", msg.Envelope.EventID)
			return nil
		}
	}

	rec, exists, err := p.store.GetJob(ctx, job.JobID)
	if err != nil {
		return &notStartedError{jobID: job.JobID, err: fmt.Errorf("get job: %w", err)}
	}
	if exists && (rec.Status == store.JobStatusCompleted || rec.Status == store.JobStatusFailed) {
		p.logger.Printf("skip job %s, already %s", job.JobID, rec.Status)
		return nil
	}
	if !exists {
		request, _ := json.Marshal(job)
		if err := p.store.SaveJob(ctx, store.JobRecord{ID: job.JobID, Source: core.SourceKind(job.Source), Reference: job.Reference, Request: request}); err != nil {
			return &notStartedError{jobID: job.JobID, err: fmt.Errorf("save job: %w", err)}
		}
	}
	if err := p.store.UpdateJobStatus(ctx, job.JobID, store.JobStatusRunning, "", "", ""); err != nil {
		return &notStartedError{jobID: job.JobID, err: fmt.Errorf("mark job running: %w", err)}
	}

	start := time.Now()
	res, runErr := p.run(ctx, job)
	p.record(ctx, job.Source, runErr == nil, time.Since(start))
	// settle even when the worker is shutting down
	settleCtx := context.WithoutCancel(ctx)
	if runErr != nil {
		span.RecordError(runErr)
		span.SetStatus(codes.Error, runErr.Error())
		return p.fail(settleCtx, job.JobID, runErr)
	}

	if err := p.store.SaveScript(settleCtx, res); err != nil {
		return p.fail(settleCtx, job.JobID, fmt.Errorf("save script: %w", err))
	}
	if err := p.store.UpdateJobStatus(settleCtx, job.JobID, store.JobStatusCompleted, res.ID, "", ""); err != nil {
		return fmt.Errorf("mark job completed: %w", err)
	}
	if err := p.queue.Completed(settleCtx, streams.JobCompletedPayload{JobID: job.JobID, ScriptID: res.ID, Title: res.Title, Lines: len(res.Dialogue)}); err != nil {
		p.logger.Printf("warn: publish completion for %s: %v", job.JobID, err)
	}
	p.logger.Printf("job %s completed as script %s (%d lines) in %s", job.JobID, res.ID, len(res.Dialogue), time.Since(start).Round(time.Second))
	return nil
}

func (p *Processor) run(ctx context.Context, job streams.JobRequestedPayload) (*core.ScriptResult, error) {
	speakers := pipeline.Speakers{Host: identity(job.Host), Guest: identity(job.Guest)}
	switch core.SourceKind(job.Source) {
	case core.SourcePrompt:
		return p.pipelines.FromPrompt(ctx, pipeline.PromptInput{Topic: job.Reference, Instruction: job.Instruction, MaxAnalysts: job.MaxAnalysts, Speakers: speakers})
	case core.SourcePDF:
		return p.pipelines.FromPDF(ctx, pipeline.PDFInput{Path: job.Reference, Instruction: job.Instruction, Speakers: speakers})
	case core.SourceArxiv:
		return p.pipelines.FromArxiv(ctx, pipeline.ArxivInput{URL: job.Reference, Instruction: job.Instruction, Speakers: speakers})
	default:
		return nil, fmt.Errorf("%w: unknown source %q", pipeline.ErrInvalidInput, job.Source)
	}
}

func (p *Processor) fail(ctx context.Context, jobID string, cause error) error {
	var stage string
	var se *core.StageError
	if errors.As(cause, &se) {
		stage = se.Stage
	}
	if err := p.store.UpdateJobStatus(ctx, jobID, store.JobStatusFailed, "", stage, cause.Error()); err != nil {
		p.logger.Printf("warn: mark job %s failed: %v", jobID, err)
	}
	if err := p.queue.Failed(ctx, streams.JobFailedPayload{JobID: jobID, Stage: stage, Error: cause.Error()}); err != nil {
		p.logger.Printf("warn: publish failure for %s: %v", jobID, err)
	}
	return fmt.Errorf("job %s: %w", jobID, cause)
}

func (p *Processor) record(ctx context.Context, source string, ok bool, elapsed time.Duration) {
	attrs := otelmetric.WithAttributes(attribute.String("source", source), attribute.Bool("success", ok))
	if p.jobCounter != nil {
		p.jobCounter.Add(ctx, 1, attrs)
	}
	if p.jobDuration != nil {
		p.jobDuration.Record(ctx, elapsed.Seconds(), attrs)
	}
}

func identity(in *streams.IdentityPayload) core.Identity {
	if in == nil {
		return core.Identity{}
	}
	return core.Identity{Name: in.Name, Background: in.Background}
}
