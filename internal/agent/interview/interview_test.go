package interview

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/mohammad-safakhou/podcaster/internal/agent/core"
	"github.com/mohammad-safakhou/podcaster/internal/agent/retrieval"
)

// scriptedLLM answers by prompt kind: questions, expert answers and sections.
type scriptedLLM struct {
	mu            sync.Mutex
	questions     []string
	answerSystems []string
	answerErr     error
	sections      int
}

func (s *scriptedLLM) Complete(ctx context.Context, p core.Prompt) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case strings.HasPrefix(p.System, "You are an analyst"):
		i := countQuestions(p.Messages)
		if i < len(s.questions) {
			return s.questions[i], nil
		}
		return fmt.Sprintf("question %d", i+1), nil
	case strings.HasPrefix(p.System, "You are an expert being interviewed"):
		if s.answerErr != nil {
			return "", s.answerErr
		}
		s.answerSystems = append(s.answerSystems, p.System)
		return fmt.Sprintf("answer %d [1]", len(s.answerSystems)), nil
	default:
		s.sections++
		return "## Section\n### Summary\nbody\n### Sources\n[1] https://a", nil
	}
}

func (s *scriptedLLM) CompleteStructured(ctx context.Context, p core.Prompt, schema string, out any) error {
	return errors.New("not used")
}

func countQuestions(msgs []core.Message) int {
	n := 0
	for _, m := range msgs {
		if m.Role == core.RoleAI && !m.IsExpert() {
			n++
		}
	}
	return n
}

type lastMessageQuery struct{}

func (lastMessageQuery) Write(ctx context.Context, messages []core.Message) string {
	return messages[len(messages)-1].Content
}

type stubRetriever struct {
	name string
	err  error
}

func (s stubRetriever) Name() string { return s.name }

func (s stubRetriever) Search(ctx context.Context, query string, k int) ([]core.Passage, error) {
	if s.err != nil {
		return nil, s.err
	}
	return []core.Passage{{Content: s.name + " on " + query, Metadata: map[string]string{"url": "https://" + s.name}}}, nil
}

var analyst = core.Analyst{Name: "Dr. Lin", Role: "Researcher", Affiliation: "NTU", Description: "Fine-tuning for Traditional Chinese"}

func newInterviewer(llm core.LLM, maxTurns int, retrievers ...core.Retriever) *Interviewer {
	sources := make([]retrieval.Source, len(retrievers))
	for i, r := range retrievers {
		sources[i] = retrieval.Source{Retriever: r}
	}
	return New(llm, lastMessageQuery{}, retrieval.NewGatherer(sources, 3, nil, nil), maxTurns, nil)
}

func TestInterviewStopsAtMaxTurns(t *testing.T) {
	llm := &scriptedLLM{}
	st, err := newInterviewer(llm, 2, stubRetriever{name: "web"}).Run(context.Background(), "Llama 3 Taiwan", analyst)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := st.ExpertAnswers(); got != 2 {
		t.Fatalf("expected exactly 2 expert answers, got %d", got)
	}
	if st.Messages[0].Content != "So you said you were writing an article on Llama 3 Taiwan?" {
		t.Fatalf("unexpected seed %q", st.Messages[0].Content)
	}
	if llm.sections != 1 || !strings.HasPrefix(st.Section, "## Section") {
		t.Fatalf("section writer should run once, got %d", llm.sections)
	}
	if !strings.Contains(st.Interview, "Human: So you said") || !strings.Contains(st.Interview, "AI: answer 2") {
		t.Fatalf("unexpected transcript %q", st.Interview)
	}
}

func TestInterviewStopsOnSignOff(t *testing.T) {
	llm := &scriptedLLM{questions: []string{"Great, that covers it. Thank you so much for your help!"}}
	st, err := newInterviewer(llm, 5, stubRetriever{name: "web"}).Run(context.Background(), "X", analyst)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := st.ExpertAnswers(); got != 1 {
		t.Fatalf("sign-off should end the interview after one answer, got %d", got)
	}
}

func TestRetrievedContextNeverShrinks(t *testing.T) {
	llm := &scriptedLLM{}
	st, err := newInterviewer(llm, 3, stubRetriever{name: "web"}, stubRetriever{name: "papers"}).Run(context.Background(), "X", analyst)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(st.Context) != 6 {
		t.Fatalf("expected one block per adapter per turn, got %d", len(st.Context))
	}
	for i := 1; i < len(llm.answerSystems); i++ {
		prev, cur := llm.answerSystems[i-1], llm.answerSystems[i]
		if len(cur) <= len(prev) {
			t.Fatalf("answer %d saw less context than answer %d", i+1, i)
		}
		if !strings.Contains(cur, "web on question 1") {
			t.Fatalf("answer %d lost the first turn's context", i+1)
		}
	}
}

func TestFailingAdapterStillAnswers(t *testing.T) {
	llm := &scriptedLLM{}
	st, err := newInterviewer(llm, 1,
		stubRetriever{name: "encyclopedia", err: &core.RetrievalError{Adapter: "encyclopedia", Err: errors.New("timeout")}},
		stubRetriever{name: "web"},
	).Run(context.Background(), "X", analyst)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if st.ExpertAnswers() != 1 {
		t.Fatalf("expected an answer despite the failing adapter")
	}
	if st.Context[0] != "" || !strings.Contains(st.Context[1], "web on question 1") {
		t.Fatalf("failing adapter should contribute an empty block: %q", st.Context)
	}
}

func TestAnswerFailureIsFatal(t *testing.T) {
	llm := &scriptedLLM{answerErr: &core.ModelError{Provider: "p", Model: "m", Status: 400, Err: errors.New("bad request")}}
	_, err := newInterviewer(llm, 3, stubRetriever{name: "web"}).Run(context.Background(), "X", analyst)
	var me *core.ModelError
	if !errors.As(err, &me) {
		t.Fatalf("expected ModelError, got %v", err)
	}
}

func TestRoute(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		msgs []core.Message
		max  int
		want Next
	}{
		{"continue", []core.Message{core.HumanMessage("seed"), core.AIMessage("q1"), core.ExpertMessage("a1")}, 3, NextAsk},
		{"max turns", []core.Message{core.AIMessage("q1"), core.ExpertMessage("a1"), core.AIMessage("q2"), core.ExpertMessage("a2")}, 2, NextSave},
		{"sign-off", []core.Message{core.AIMessage(SignOff), core.ExpertMessage("a1")}, 3, NextSave},
		{"sign-off in answer is ignored", []core.Message{core.AIMessage("q1"), core.ExpertMessage(SignOff)}, 3, NextAsk},
	}
	for _, tc := range cases {
		st := &State{Messages: tc.msgs, MaxNumTurns: tc.max}
		if got := Route(st); got != tc.want {
			t.Errorf("%s: got %v, want %v", tc.name, got, tc.want)
		}
	}
}
