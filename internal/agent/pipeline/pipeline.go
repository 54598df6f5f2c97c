package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/mohammad-safakhou/podcaster/config"
	"github.com/mohammad-safakhou/podcaster/internal/agent/core"
	"github.com/mohammad-safakhou/podcaster/internal/agent/interview"
	"github.com/mohammad-safakhou/podcaster/internal/agent/llm"
	"github.com/mohammad-safakhou/podcaster/internal/agent/outline"
	"github.com/mohammad-safakhou/podcaster/internal/agent/research"
	"github.com/mohammad-safakhou/podcaster/internal/agent/retrieval"
	"github.com/mohammad-safakhou/podcaster/internal/agent/script"
	"github.com/mohammad-safakhou/podcaster/internal/agent/summarize"
	"github.com/mohammad-safakhou/podcaster/internal/agent/telemetry"
	"github.com/mohammad-safakhou/podcaster/internal/queue/streams"
	"github.com/mohammad-safakhou/podcaster/tools/vector_store/models"
)

var tracer = otel.Tracer("podcaster/internal/agent/pipeline")

// ErrInvalidInput marks requests rejected before any stage runs.
var ErrInvalidInput = errors.New("invalid pipeline input")

// ErrNoLibrary is returned by AddReference when no reference library is wired.
var ErrNoLibrary = errors.New("reference library not configured")

const (
	// Event-only stage name; research failures carry their own stage.
	stageResearch = "research"
	// StageIngest names a failed write into the reference library.
	StageIngest = "ingest"
)

// Deps are the collaborators shared by every pipeline run.
type Deps struct {
	LLM       core.LLM
	Sources   []retrieval.Source
	PDF       core.DocumentReader
	Arxiv     core.DocumentReader
	Ingester  summarize.Ingester // nil disables summary ingestion
	Library   summarize.Ingester // target of AddReference; nil disables it
	Events    Events
	Telemetry *telemetry.Telemetry
	Logger    *log.Logger
}

// Speakers overrides the configured host and guest. Empty names keep the defaults.
type Speakers struct {
	Host  core.Identity
	Guest core.Identity
}

type PromptInput struct {
	Topic       string
	Instruction string
	MaxAnalysts int
	Feedback    string
	Review      research.FeedbackFunc
	Speakers
}

type PDFInput struct {
	Path        string
	Instruction string
	Speakers
}

// ReferenceInput is a local PDF to summarize into the reference library
// under Name.
type ReferenceInput struct {
	Path  string
	Name  string
	Title string
}

type ArxivInput struct {
	URL         string
	Instruction string
	Speakers
}

// Service runs the prompt, PDF and arXiv pipelines.
type Service struct {
	cfg        config.PipelineConfig
	llm        core.LLM
	deps       Deps
	summarizer *summarize.Summarizer
	library    *summarize.Summarizer
	research   *research.Orchestrator
	planner    *outline.Planner
	writer     *script.Writer
	logger     *log.Logger
}

// New wires the workflow components. Every model call is bounded by
// cfg.CallTimeout; the whole run by cfg.PipelineTimeout.
func New(cfg config.PipelineConfig, agents config.AgentsConfig, deps Deps) *Service {
	cfg = cfg.Normalize()
	if deps.Logger == nil {
		deps.Logger = log.New(log.Writer(), "[PIPELINE] ", log.LstdFlags)
	}
	if deps.Events == nil {
		deps.Events = NoopEvents
	}
	model := llm.WithCallTimeout(deps.LLM, cfg.CallTimeout)

	gatherer := retrieval.NewGatherer(deps.Sources, cfg.SearchK, deps.Telemetry, nil)
	iv := interview.New(model, retrieval.NewQueryWriter(model, nil), gatherer, cfg.MaxNumTurns, nil)

	return &Service{
		cfg:        cfg,
		llm:        model,
		deps:       deps,
		summarizer: summarize.New(model, deps.Ingester, nil),
		library:    summarize.New(model, deps.Library, nil),
		research:   research.New(model, iv, agents.MaxConcurrentAgents, nil),
		planner:    outline.New(model, nil),
		writer:     script.New(model, cfg.DialogueWindow, nil),
		logger:     deps.Logger,
	}
}

// Defaults returns the configured host, guest and instruction.
func (s *Service) Defaults() (core.Identity, core.Identity, string) {
	return identity(s.cfg.Host), identity(s.cfg.Guest), s.cfg.DefaultInstruction
}

// FromPrompt researches a free-text topic and turns the report into a script.
func (s *Service) FromPrompt(ctx context.Context, in PromptInput) (*core.ScriptResult, error) {
	topic := strings.TrimSpace(in.Topic)
	if topic == "" {
		return nil, fmt.Errorf("%w: topic is required", ErrInvalidInput)
	}
	r, err := s.begin(core.SourcePrompt, topic, in.Instruction, in.Speakers)
	if err != nil {
		return nil, err
	}
	maxAnalysts := in.MaxAnalysts
	if maxAnalysts <= 0 {
		maxAnalysts = s.cfg.MaxAnalysts
	}

	return r.execute(ctx, func(ctx context.Context) (string, error) {
		var report *research.Report
		err := r.stage(ctx, stageResearch, core.StageGenerateAnalysts, func(ctx context.Context) error {
			var err error
			report, err = s.research.Run(ctx, research.Request{
				Topic:       topic,
				MaxAnalysts: maxAnalysts,
				Feedback:    in.Feedback,
				Review:      in.Review,
			})
			return err
		})
		if err != nil {
			return "", err
		}
		r.result.Report = report.Final
		return report.Final, nil
	})
}

// FromPDF summarizes a local PDF and turns the summary into a script.
func (s *Service) FromPDF(ctx context.Context, in PDFInput) (*core.ScriptResult, error) {
	path := strings.TrimSpace(in.Path)
	if path == "" {
		return nil, fmt.Errorf("%w: pdf path is required", ErrInvalidInput)
	}
	if s.deps.PDF == nil {
		return nil, fmt.Errorf("%w: pdf reader not configured", ErrInvalidInput)
	}
	return s.fromDocument(ctx, core.SourcePDF, path, in.Instruction, in.Speakers, s.deps.PDF)
}

// FromArxiv reads an arXiv paper and turns its summary into a script.
func (s *Service) FromArxiv(ctx context.Context, in ArxivInput) (*core.ScriptResult, error) {
	url := strings.TrimSpace(in.URL)
	if url == "" {
		return nil, fmt.Errorf("%w: arxiv url is required", ErrInvalidInput)
	}
	if s.deps.Arxiv == nil {
		return nil, fmt.Errorf("%w: arxiv reader not configured", ErrInvalidInput)
	}
	return s.fromDocument(ctx, core.SourceArxiv, url, in.Instruction, in.Speakers, s.deps.Arxiv)
}

// AddReference reads and summarizes a PDF, then indexes the enriched
// summary under in.Name so later research can retrieve it. No script is
// written.
func (s *Service) AddReference(ctx context.Context, in ReferenceInput) (models.IngestResult, error) {
	path, name := strings.TrimSpace(in.Path), strings.TrimSpace(in.Name)
	if path == "" || name == "" {
		return models.IngestResult{}, fmt.Errorf("%w: reference path and name are required", ErrInvalidInput)
	}
	if s.deps.PDF == nil {
		return models.IngestResult{}, fmt.Errorf("%w: pdf reader not configured", ErrInvalidInput)
	}
	if s.deps.Library == nil {
		return models.IngestResult{}, ErrNoLibrary
	}
	title := strings.TrimSpace(in.Title)
	if title == "" {
		title = strings.TrimSuffix(name, filepath.Ext(name))
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.PipelineTimeout)
	defer cancel()
	ctx, span := tracer.Start(ctx, "pipeline.reference")
	defer span.End()
	span.SetAttributes(attribute.String("reference.name", name))
	fail := func(stage string, err error) (models.IngestResult, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Printf("reference %s failed at %s: %v", name, stage, err)
		return models.IngestResult{}, &core.StageError{Stage: stage, Err: err}
	}

	start := time.Now()
	text, err := s.deps.PDF.Read(ctx, path)
	if err != nil {
		return fail(core.StageReadSource, err)
	}
	summary, err := s.library.Summarize(ctx, text)
	if err != nil {
		return fail(core.StageSummarize, err)
	}
	res, err := s.library.Store(ctx, title, name, summary)
	if err != nil {
		return fail(StageIngest, err)
	}
	s.logger.Printf("reference %s indexed as %d chunks in %s", name, res.Chunks, time.Since(start).Round(time.Millisecond))
	return res, nil
}

func (s *Service) fromDocument(ctx context.Context, kind core.SourceKind, ref, instruction string, sp Speakers, reader core.DocumentReader) (*core.ScriptResult, error) {
	r, err := s.begin(kind, ref, instruction, sp)
	if err != nil {
		return nil, err
	}
	return r.execute(ctx, func(ctx context.Context) (string, error) {
		var text string
		err := r.stage(ctx, core.StageReadSource, core.StageReadSource, func(ctx context.Context) error {
			var err error
			text, err = reader.Read(ctx, ref)
			return err
		})
		if err != nil {
			return "", err
		}

		var summary summarize.Result
		err = r.stage(ctx, core.StageSummarize, core.StageSummarize, func(ctx context.Context) error {
			var err error
			summary, err = s.summarizer.Summarize(ctx, text)
			return err
		})
		if err != nil {
			return "", err
		}
		r.summary = &summary
		r.result.Report = summary.Enriched()
		return summary.Enriched(), nil
	})
}

func (s *Service) begin(kind core.SourceKind, ref, instruction string, sp Speakers) (*run, error) {
	host, guest, defInstruction := s.Defaults()
	if strings.TrimSpace(sp.Host.Name) != "" {
		host = sp.Host
	}
	if strings.TrimSpace(sp.Guest.Name) != "" {
		guest = sp.Guest
	}
	if host.Name == guest.Name {
		return nil, fmt.Errorf("%w: host and guest must have different names", ErrInvalidInput)
	}
	if strings.TrimSpace(instruction) == "" {
		instruction = defInstruction
	}
	return &run{
		svc:         s,
		instruction: instruction,
		result: &core.ScriptResult{
			ID:        uuid.NewString(),
			Source:    kind,
			Reference: ref,
			Host:      host,
			Guest:     guest,
		},
	}, nil
}

// run is the state of one pipeline invocation.
type run struct {
	svc         *Service
	instruction string
	result      *core.ScriptResult
	summary     *summarize.Result
}

// execute bounds the run by the pipeline deadline, produces the content
// with produce, then plans and writes the script from it.
func (r *run) execute(ctx context.Context, produce func(ctx context.Context) (string, error)) (*core.ScriptResult, error) {
	s := r.svc
	ctx, cancel := context.WithTimeout(ctx, s.cfg.PipelineTimeout)
	defer cancel()
	ctx, span := tracer.Start(ctx, "pipeline."+string(r.result.Source))
	defer span.End()
	span.SetAttributes(attribute.String("pipeline.id", r.result.ID), attribute.String("pipeline.reference", r.result.Reference))

	start := time.Now()
	s.logger.Printf("%s pipeline %s started for %q", r.result.Source, r.result.ID, r.result.Reference)

	res, err := r.produceScript(ctx, produce)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Printf("%s pipeline %s failed after %s: %v", r.result.Source, r.result.ID, time.Since(start).Round(time.Millisecond), err)
		return nil, err
	}
	s.logger.Printf("%s pipeline %s finished in %s: %d lines", r.result.Source, r.result.ID, time.Since(start).Round(time.Millisecond), len(res.Dialogue))
	return res, nil
}

func (r *run) produceScript(ctx context.Context, produce func(ctx context.Context) (string, error)) (*core.ScriptResult, error) {
	s := r.svc
	content, err := produce(ctx)
	if err != nil {
		return nil, err
	}

	var plan core.OutlinePlan
	err = r.stage(ctx, core.StagePlanOutline, core.StagePlanOutline, func(ctx context.Context) error {
		var err error
		plan, _, err = s.planner.Plan(ctx, outline.Input{
			Instruction: r.instruction,
			Content:     content,
			Host:        r.result.Host,
			Guest:       r.result.Guest,
		})
		if err == nil && len(plan.Sections) == 0 {
			err = errors.New("outline has no sections")
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	if r.summary != nil {
		s.summarizer.Ingest(ctx, plan.Title, r.result.Reference, *r.summary)
	}

	var dialogue *core.Script
	err = r.stage(ctx, core.StageWriteScript, core.StageWriteScript, func(ctx context.Context) error {
		var err error
		dialogue, err = s.writer.Write(ctx, script.Input{
			Title:       plan.Title,
			Instruction: r.instruction,
			Content:     content,
			Plan:        plan,
			Host:        r.result.Host,
			Guest:       r.result.Guest,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	r.result.Title = plan.Title
	if r.result.Title == "" {
		r.result.Title = r.result.Reference
	}
	r.result.Outline = plan
	r.result.Dialogue = dialogue.Lines()
	r.result.CreatedAt = time.Now().UTC()
	return r.result, nil
}

// stage runs fn, reports the transition and wraps failures as a StageError
// named errStage. StageErrors raised inside fn pass through unchanged.
func (r *run) stage(ctx context.Context, name, errStage string, fn func(ctx context.Context) error) error {
	s := r.svc
	ctx, span := tracer.Start(ctx, "stage."+name)
	defer span.End()

	r.emit(ctx, name, streams.StageStatusStarted, 0, nil)
	start := time.Now()
	err := fn(ctx)
	elapsed := time.Since(start)
	s.deps.Telemetry.RecordStageEvent(ctx, telemetry.StageEvent{
		Pipeline: string(r.result.Source),
		Stage:    name,
		Duration: elapsed,
		Success:  err == nil,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.emit(ctx, name, streams.StageStatusFailed, elapsed, err)
		var se *core.StageError
		if errors.As(err, &se) {
			return err
		}
		return &core.StageError{Stage: errStage, Err: err}
	}
	r.emit(ctx, name, streams.StageStatusCompleted, elapsed, nil)
	return nil
}

func (r *run) emit(ctx context.Context, stage, status string, elapsed time.Duration, cause error) {
	ev := streams.StagePayload{
		PipelineID: r.result.ID,
		Pipeline:   string(r.result.Source),
		Stage:      stage,
		Status:     status,
		DurationMS: streams.StageDuration(elapsed),
	}
	if cause != nil {
		ev.Error = cause.Error()
	}
	// a cancelled run still reports its final transition
	if err := r.svc.deps.Events.EmitStage(context.WithoutCancel(ctx), ev); err != nil {
		r.svc.logger.Printf("emit %s %s for %s: %v", stage, status, r.result.ID, err)
	}
}

func identity(c config.IdentityConfig) core.Identity {
	return core.Identity{Name: c.Name, Background: c.Background}
}
