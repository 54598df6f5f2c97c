package interview

import (
	"context"
	"fmt"
	"log"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/mohammad-safakhou/podcaster/internal/agent/core"
)

var tracer = otel.Tracer("podcaster/internal/agent/interview")

const (
	DefaultMaxNumTurns = 3
	// SignOff ends an interview when the analyst asks it.
	SignOff = "Thank you so much for your help!"
)

// QueryWriter turns the conversation into a search query.
type QueryWriter interface {
	Write(ctx context.Context, messages []core.Message) string
}

// Gatherer returns one context block per retrieval adapter.
type Gatherer interface {
	Gather(ctx context.Context, query string) []string
}

// State is the conversation owned by one interview.
type State struct {
	Topic       string
	Analyst     core.Analyst
	Messages    []core.Message
	Context     []string // one block per adapter call, append-only
	MaxNumTurns int
	Interview   string
	Section     string
}

// NewState seeds a conversation about topic.
func NewState(topic string, analyst core.Analyst, maxNumTurns int) *State {
	if maxNumTurns <= 0 {
		maxNumTurns = DefaultMaxNumTurns
	}
	return &State{
		Topic:       topic,
		Analyst:     analyst,
		Messages:    []core.Message{core.HumanMessage(fmt.Sprintf("So you said you were writing an article on %s?", topic))},
		MaxNumTurns: maxNumTurns,
	}
}

// ExpertAnswers counts expert-tagged messages.
func (s *State) ExpertAnswers() int {
	n := 0
	for _, m := range s.Messages {
		if m.IsExpert() {
			n++
		}
	}
	return n
}

// RenderedContext joins the non-empty context blocks gathered so far.
func (s *State) RenderedContext() string {
	parts := make([]string, 0, len(s.Context))
	for _, c := range s.Context {
		if strings.TrimSpace(c) != "" {
			parts = append(parts, c)
		}
	}
	return strings.Join(parts, "\n\n---\n\n")
}

// Next is the routing decision after an answer.
type Next int

const (
	NextAsk Next = iota
	NextSave
)

// Route ends the interview once max turns expert answers exist, or when the
// second-to-last message (the latest question) carries the sign-off.
func Route(s *State) Next {
	if s.ExpertAnswers() >= s.MaxNumTurns {
		return NextSave
	}
	if n := len(s.Messages); n >= 2 && strings.Contains(s.Messages[n-2].Content, strings.TrimSuffix(SignOff, "!")) {
		return NextSave
	}
	return NextAsk
}

type Interviewer struct {
	llm      core.LLM
	queries  QueryWriter
	gatherer Gatherer
	maxTurns int
	logger   *log.Logger
}

func New(llm core.LLM, queries QueryWriter, gatherer Gatherer, maxNumTurns int, logger *log.Logger) *Interviewer {
	if logger == nil {
		logger = log.New(log.Writer(), "[INTERVIEW] ", log.LstdFlags)
	}
	return &Interviewer{llm: llm, queries: queries, gatherer: gatherer, maxTurns: maxNumTurns, logger: logger}
}

// Run conducts one interview to completion and writes its report section.
func (iv *Interviewer) Run(ctx context.Context, topic string, analyst core.Analyst) (*State, error) {
	ctx, span := tracer.Start(ctx, "interview.run")
	defer span.End()
	span.SetAttributes(attribute.String("analyst", analyst.Name))

	st := NewState(topic, analyst, iv.maxTurns)
	for {
		if err := iv.AskQuestion(ctx, st); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		iv.Search(ctx, st)
		if err := iv.AnswerQuestion(ctx, st); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		if Route(st) == NextSave {
			break
		}
	}
	if err := iv.SaveAndWrite(ctx, st); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	iv.logger.Printf("%s finished after %d answers", analyst.Name, st.ExpertAnswers())
	return st, nil
}

func (iv *Interviewer) AskQuestion(ctx context.Context, st *State) error {
	q, err := iv.llm.Complete(ctx, core.Prompt{
		Task:     core.TaskResearch,
		System:   fmt.Sprintf(questionInstructions, st.Analyst.Persona()),
		Messages: st.Messages,
	})
	if err != nil {
		return fmt.Errorf("interview %s: ask question: %w", st.Analyst.Name, err)
	}
	st.Messages = append(st.Messages, core.AIMessage(q))
	return nil
}

// Search writes one query for the turn and appends every adapter's block.
func (iv *Interviewer) Search(ctx context.Context, st *State) {
	if iv.gatherer == nil {
		return
	}
	query := iv.queries.Write(ctx, st.Messages)
	if query == "" {
		iv.logger.Printf("%s: empty search query, skipping retrieval", st.Analyst.Name)
		return
	}
	st.Context = append(st.Context, iv.gatherer.Gather(ctx, query)...)
}

func (iv *Interviewer) AnswerQuestion(ctx context.Context, st *State) error {
	answer, err := iv.llm.Complete(ctx, core.Prompt{
		Task:     core.TaskResearch,
		System:   fmt.Sprintf(answerInstructions, st.Analyst.Persona(), st.RenderedContext()),
		Messages: st.Messages,
	})
	if err != nil {
		return fmt.Errorf("interview %s: answer question: %w", st.Analyst.Name, err)
	}
	st.Messages = append(st.Messages, core.ExpertMessage(answer))
	return nil
}

// SaveAndWrite serializes the transcript and turns it into a report section.
func (iv *Interviewer) SaveAndWrite(ctx context.Context, st *State) error {
	st.Interview = core.Transcript(st.Messages)
	section, err := iv.llm.Complete(ctx, core.Prompt{
		Task:   core.TaskSynthesis,
		System: fmt.Sprintf(sectionWriterInstructions, st.Analyst.Description),
		Messages: []core.Message{core.HumanMessage(
			fmt.Sprintf(sectionWriterRequest, st.Interview, st.RenderedContext()),
		)},
	})
	if err != nil {
		return fmt.Errorf("interview %s: write section: %w", st.Analyst.Name, err)
	}
	st.Section = section
	return nil
}
