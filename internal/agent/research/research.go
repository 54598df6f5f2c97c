package research

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/mohammad-safakhou/podcaster/internal/agent/core"
	"github.com/mohammad-safakhou/podcaster/internal/agent/interview"
	"github.com/mohammad-safakhou/podcaster/internal/agent/llm"
	"github.com/mohammad-safakhou/podcaster/internal/helpers"
)

var tracer = otel.Tracer("podcaster/internal/agent/research")

const maxFeedbackRounds = 10

// FeedbackFunc reviews generated analysts. A non-empty reply regenerates
// them with the reply as editorial feedback; an empty reply accepts them.
type FeedbackFunc func(ctx context.Context, analysts []core.Analyst) (string, error)

// Interviewer runs one analyst interview to completion.
type Interviewer interface {
	Run(ctx context.Context, topic string, analyst core.Analyst) (*interview.State, error)
}

// Request describes one research run.
type Request struct {
	Topic       string
	MaxAnalysts int
	Feedback    string       // initial editorial feedback, optional
	Review      FeedbackFunc // optional
}

// Report is the result of the map and reduce steps.
type Report struct {
	Topic        string
	Analysts     []core.Analyst
	Shortfall    core.Shortfall
	Sections     []core.Section
	Interviews   []string
	Content      string
	Introduction string
	Conclusion   string
	Final        string
}

type Orchestrator struct {
	llm         core.LLM
	interviewer Interviewer
	concurrency int
	logger      *log.Logger
}

// New builds an orchestrator. concurrency bounds the interviews in flight;
// zero runs them all at once.
func New(llm core.LLM, interviewer Interviewer, concurrency int, logger *log.Logger) *Orchestrator {
	if logger == nil {
		logger = log.New(log.Writer(), "[RESEARCH] ", log.LstdFlags)
	}
	return &Orchestrator{llm: llm, interviewer: interviewer, concurrency: concurrency, logger: logger}
}

// Run generates analysts, interviews them concurrently, and writes the report
// once every interview has finished.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Report, error) {
	ctx, span := tracer.Start(ctx, "research.run")
	defer span.End()
	span.SetAttributes(attribute.String("topic", req.Topic), attribute.Int("max_analysts", req.MaxAnalysts))

	report, err := o.run(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return report, nil
}

func (o *Orchestrator) run(ctx context.Context, req Request) (*Report, error) {
	analysts, shortfall, err := o.CreateAnalysts(ctx, req)
	if err != nil {
		return nil, &core.StageError{Stage: core.StageGenerateAnalysts, Err: err}
	}
	report := &Report{Topic: req.Topic, Analysts: analysts, Shortfall: shortfall}

	sections, interviews, err := o.Interview(ctx, req.Topic, analysts)
	if err != nil {
		return nil, &core.StageError{Stage: core.StageInterview, Err: err}
	}
	report.Sections, report.Interviews = sections, interviews

	if err := o.Reduce(ctx, report); err != nil {
		return nil, err
	}
	report.Final = Finalize(report.Introduction, report.Content, report.Conclusion)
	return report, nil
}

// CreateAnalysts generates analysts and loops while review returns feedback.
func (o *Orchestrator) CreateAnalysts(ctx context.Context, req Request) ([]core.Analyst, core.Shortfall, error) {
	count := req.MaxAnalysts
	if count <= 0 {
		count = 3
	}
	feedback := req.Feedback
	for round := 0; ; round++ {
		analysts, err := o.generateAnalysts(ctx, req.Topic, count, feedback)
		if err != nil {
			return nil, core.Shortfall{}, err
		}
		shortfall := core.Shortfall{Requested: count, Got: len(analysts)}
		if req.Review == nil {
			return analysts, shortfall, nil
		}
		next, err := req.Review(ctx, analysts)
		if err != nil {
			return nil, core.Shortfall{}, fmt.Errorf("analyst review: %w", err)
		}
		if strings.TrimSpace(next) == "" {
			return analysts, shortfall, nil
		}
		if round+1 >= maxFeedbackRounds {
			o.logger.Printf("stopping analyst regeneration after %d feedback rounds", maxFeedbackRounds)
			return analysts, shortfall, nil
		}
		feedback = next
	}
}

func (o *Orchestrator) generateAnalysts(ctx context.Context, topic string, count int, feedback string) ([]core.Analyst, error) {
	var out struct {
		Analysts []core.Analyst `json:"analysts"`
	}
	err := o.llm.CompleteStructured(ctx, core.Prompt{
		Task:     core.TaskResearch,
		System:   fmt.Sprintf(analystInstructions, topic, feedback, count),
		Messages: []core.Message{core.HumanMessage("Generate the set of analysts.")},
	}, llm.SchemaAnalysts, &out)
	if err != nil {
		return nil, err
	}
	analysts := out.Analysts
	if len(analysts) > count {
		analysts = analysts[:count]
	}
	if len(analysts) < count {
		o.logger.Printf("requested %d analysts, model produced %d", count, len(analysts))
	}
	if len(analysts) == 0 {
		return nil, errors.New("model produced no analysts")
	}
	return analysts, nil
}

// Interview runs one interview per analyst. A failed interview is logged and
// dropped; the step fails only when every interview failed. Results keep
// analyst order.
func (o *Orchestrator) Interview(ctx context.Context, topic string, analysts []core.Analyst) ([]core.Section, []string, error) {
	states := make([]*interview.State, len(analysts))
	errs := make([]error, len(analysts))

	var g errgroup.Group
	limit := o.concurrency
	if limit <= 0 || limit > len(analysts) {
		limit = len(analysts)
	}
	g.SetLimit(limit)
	for i, a := range analysts {
		i, a := i, a
		g.Go(func() error {
			states[i], errs[i] = o.interviewer.Run(ctx, topic, a)
			return nil
		})
	}
	_ = g.Wait()

	var sections []core.Section
	var interviews []string
	var failed []error
	for i, st := range states {
		if errs[i] != nil {
			o.logger.Printf("interview with %s failed: %v", analysts[i].Name, errs[i])
			failed = append(failed, errs[i])
			continue
		}
		sections = append(sections, core.Section{Analyst: analysts[i], Body: st.Section})
		interviews = append(interviews, st.Interview)
	}
	if len(sections) == 0 {
		return nil, nil, errors.Join(failed...)
	}
	return sections, interviews, nil
}

// Reduce runs the report, introduction and conclusion writers concurrently
// over the complete section set.
func (o *Orchestrator) Reduce(ctx context.Context, report *Report) error {
	bodies := make([]string, len(report.Sections))
	for i, s := range report.Sections {
		bodies[i] = s.Body
	}
	sections := strings.Join(bodies, "\n\n")

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	write := func(stage string, p core.Prompt, dst *string) {
		g.Go(func() error {
			text, err := o.llm.Complete(gctx, p)
			if err != nil {
				return &core.StageError{Stage: stage, Err: err}
			}
			mu.Lock()
			*dst = helpers.Unfence(text, "markdown", "md")
			mu.Unlock()
			return nil
		})
	}
	write(core.StageWriteReport, core.Prompt{
		Task:     core.TaskSynthesis,
		System:   fmt.Sprintf(reportWriterInstructions, report.Topic, sections),
		Messages: []core.Message{core.HumanMessage("Write a report based upon these memos.")},
	}, &report.Content)
	write(core.StageWriteIntroduction, core.Prompt{
		Task:     core.TaskSynthesis,
		System:   fmt.Sprintf(introConclusionInstructions, report.Topic, sections),
		Messages: []core.Message{core.HumanMessage("Write the report introduction")},
	}, &report.Introduction)
	write(core.StageWriteConclusion, core.Prompt{
		Task:     core.TaskSynthesis,
		System:   fmt.Sprintf(introConclusionInstructions, report.Topic, sections),
		Messages: []core.Message{core.HumanMessage("Write the report conclusion")},
	}, &report.Conclusion)
	return g.Wait()
}
