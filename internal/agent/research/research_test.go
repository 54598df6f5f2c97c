package research

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mohammad-safakhou/podcaster/internal/agent/core"
	"github.com/mohammad-safakhou/podcaster/internal/agent/interview"
)

type stubLLM struct {
	mu          sync.Mutex
	analysts    int
	systems     []string
	completions []string
	onComplete  func(p core.Prompt)
}

func (s *stubLLM) Complete(ctx context.Context, p core.Prompt) (string, error) {
	if s.onComplete != nil {
		s.onComplete(p)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completions = append(s.completions, p.Messages[0].Content)
	switch p.Messages[0].Content {
	case "Write the report introduction":
		return "# Title\n\n## Introduction\nintro [1]\n\n## Sources\n[1] https://a", nil
	case "Write the report conclusion":
		return "## Conclusion\nwrap up", nil
	default:
		return "## Insights\nbody [1] [2]\n\n## Sources\n[1] https://a\n[2] https://b", nil
	}
}

func (s *stubLLM) CompleteStructured(ctx context.Context, p core.Prompt, schema string, out any) error {
	s.mu.Lock()
	s.systems = append(s.systems, p.System)
	s.mu.Unlock()
	var analysts []core.Analyst
	for i := 0; i < s.analysts; i++ {
		analysts = append(analysts, core.Analyst{Name: fmt.Sprintf("Analyst %d", i+1), Role: "r", Affiliation: "a", Description: "d"})
	}
	raw, _ := json.Marshal(map[string]any{"analysts": analysts})
	return json.Unmarshal(raw, out)
}

type stubInterviewer struct {
	done  atomic.Int32
	delay time.Duration
	fail  map[string]bool
}

func (s *stubInterviewer) Run(ctx context.Context, topic string, a core.Analyst) (*interview.State, error) {
	time.Sleep(s.delay)
	if s.fail[a.Name] {
		return nil, &core.ModelError{Provider: "p", Model: "m", Err: errors.New("boom")}
	}
	s.done.Add(1)
	st := interview.NewState(topic, a, 1)
	st.Interview = "Human: hi"
	st.Section = "## " + a.Name
	return st, nil
}

func TestReduceWaitsForEveryInterview(t *testing.T) {
	for n := 1; n <= 4; n++ {
		iv := &stubInterviewer{delay: 10 * time.Millisecond}
		llm := &stubLLM{analysts: n}
		llm.onComplete = func(p core.Prompt) {
			if got := iv.done.Load(); int(got) != n {
				t.Errorf("reduce writer started after %d of %d interviews", got, n)
			}
		}
		report, err := New(llm, iv, 0, nil).Run(context.Background(), Request{Topic: "X", MaxAnalysts: n})
		if err != nil {
			t.Fatalf("Run(%d): %v", n, err)
		}
		if len(report.Interviews) != n || len(report.Sections) != n {
			t.Fatalf("expected %d transcripts, got %d", n, len(report.Interviews))
		}
		if report.Sections[0].Analyst.Name != "Analyst 1" {
			t.Fatalf("sections should keep analyst order")
		}
	}
}

func TestFinalReportMarkers(t *testing.T) {
	report, err := New(&stubLLM{analysts: 2}, &stubInterviewer{}, 0, nil).Run(context.Background(), Request{Topic: "X", MaxAnalysts: 2})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	final := report.Final
	if strings.Count(final, "## Introduction") != 1 || strings.Count(final, "## Conclusion") != 1 {
		t.Fatalf("expected one introduction and one conclusion:\n%s", final)
	}
	if strings.Index(final, "## Introduction") > strings.Index(final, "body") || strings.Index(final, "body") > strings.Index(final, "## Conclusion") {
		t.Fatalf("sections out of order:\n%s", final)
	}
	if strings.Count(final, "## Sources") != 1 || strings.Count(final, "https://a") != 1 {
		t.Fatalf("sources should be appended once and deduplicated:\n%s", final)
	}
	if strings.Contains(final, "## Insights") {
		t.Fatalf("insights header should be stripped")
	}
}

func TestInterviewFailuresAreIsolated(t *testing.T) {
	iv := &stubInterviewer{fail: map[string]bool{"Analyst 2": true}}
	report, err := New(&stubLLM{analysts: 3}, iv, 2, nil).Run(context.Background(), Request{Topic: "X", MaxAnalysts: 3})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(report.Sections) != 2 {
		t.Fatalf("expected the two surviving sections, got %d", len(report.Sections))
	}

	iv = &stubInterviewer{fail: map[string]bool{"Analyst 1": true}}
	_, err = New(&stubLLM{analysts: 1}, iv, 0, nil).Run(context.Background(), Request{Topic: "X", MaxAnalysts: 1})
	var se *core.StageError
	if !errors.As(err, &se) || se.Stage != core.StageInterview {
		t.Fatalf("expected interview stage error, got %v", err)
	}
}

func TestCreateAnalystsFeedbackLoop(t *testing.T) {
	llm := &stubLLM{analysts: 5}
	rounds := 0
	review := func(ctx context.Context, analysts []core.Analyst) (string, error) {
		rounds++
		if rounds == 1 {
			return "add a startup founder", nil
		}
		return "", nil
	}
	analysts, shortfall, err := New(llm, &stubInterviewer{}, 0, nil).CreateAnalysts(context.Background(), Request{Topic: "X", MaxAnalysts: 3, Review: review})
	if err != nil {
		t.Fatalf("CreateAnalysts: %v", err)
	}
	if len(analysts) != 3 || shortfall.Short() {
		t.Fatalf("expected 3 analysts without shortfall, got %d", len(analysts))
	}
	if len(llm.systems) != 2 || !strings.Contains(llm.systems[1], "add a startup founder") {
		t.Fatalf("feedback should trigger one regeneration carrying it")
	}
}

func TestCreateAnalystsShortfall(t *testing.T) {
	_, shortfall, err := New(&stubLLM{analysts: 2}, &stubInterviewer{}, 0, nil).CreateAnalysts(context.Background(), Request{Topic: "X", MaxAnalysts: 4})
	if err != nil {
		t.Fatalf("CreateAnalysts: %v", err)
	}
	if !shortfall.Short() || shortfall.Got != 2 {
		t.Fatalf("expected shortfall 2/4, got %+v", shortfall)
	}
}

func TestFinalizeWithoutSources(t *testing.T) {
	t.Parallel()
	got := Finalize("## Introduction\nhi", "## Insights\nbody", "## Conclusion\nbye")
	want := "## Introduction\nhi\n\n---\n\nbody\n\n---\n\n## Conclusion\nbye"
	if got != want {
		t.Fatalf("unexpected report:\n%q", got)
	}
}

func TestFinalizeIgnoresMemoSourcesHeading(t *testing.T) {
	t.Parallel()
	body := "## Insights\nbody one [1]\n\n### Sources per memo\nkept paragraph\n\n## Sources\n[1] https://a"
	got := Finalize("## Introduction\nhi", body, "## Conclusion\nbye")
	if !strings.Contains(got, "body one [1]\n\n### Sources per memo\nkept paragraph\n\n---") {
		t.Fatalf("body was cut at the memo heading:\n%s", got)
	}
	if strings.Count(got, "## Sources\n") != 1 || !strings.HasSuffix(got, "## Sources\n[1] https://a") {
		t.Fatalf("expected a single trailing source list:\n%s", got)
	}
}

func TestFinalizeRenumbersMergedSources(t *testing.T) {
	t.Parallel()
	intro := "## Introduction\nsee [1] and [2]\n\n## Sources\n[1] https://c\n[2] https://a"
	body := "## Insights\nbody [1]\n\n## Sources\n[1] https://a"
	got := Finalize(intro, body, "## Conclusion\nbye")
	if !strings.HasSuffix(got, "## Sources\n[1] https://a\n[2] https://c") {
		t.Fatalf("unexpected source list:\n%s", got)
	}
	if !strings.Contains(got, "see [2] and [1]") {
		t.Fatalf("introduction citations should follow the merged numbering:\n%s", got)
	}
	if !strings.Contains(got, "body [1]") {
		t.Fatalf("body citations changed:\n%s", got)
	}
}
