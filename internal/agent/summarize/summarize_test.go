package summarize

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/mohammad-safakhou/podcaster/internal/agent/core"
	"github.com/mohammad-safakhou/podcaster/tools/vector_store/models"
)

type scriptedLLM struct {
	mu      sync.Mutex
	replies []string
	failAt  int // 1-based call index that fails, 0 for never
	prompts []string
}

func (s *scriptedLLM) Complete(ctx context.Context, p core.Prompt) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompts = append(s.prompts, p.Messages[0].Content)
	n := len(s.prompts)
	if n == s.failAt {
		return "", &core.ModelError{Provider: "stub", Model: "m", Err: errors.New("boom")}
	}
	return s.replies[n-1], nil
}

func (s *scriptedLLM) CompleteStructured(ctx context.Context, p core.Prompt, schema string, out any) error {
	return errors.New("not used")
}

func TestSummarizeRunsPassesInOrder(t *testing.T) {
	llm := &scriptedLLM{replies: []string{"P1 ", "P2 ", "P3"}}
	res, err := New(llm, nil, nil).Summarize(context.Background(), "PAPER")
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if res.Enriched() != "P1 P2 P3" {
		t.Fatalf("unexpected enriched content %q", res.Enriched())
	}
	if strings.Contains(llm.prompts[0], "P1") {
		t.Fatalf("first pass must only see the content")
	}
	if !strings.Contains(llm.prompts[1], "P1 ") || !strings.Contains(llm.prompts[1], "PAPER") {
		t.Fatalf("second pass must see content and pass 1")
	}
	if !strings.Contains(llm.prompts[2], "P1 ") || !strings.Contains(llm.prompts[2], "P2 ") {
		t.Fatalf("third pass must see both earlier passes")
	}
}

func TestSummarizeAbortsOnFailure(t *testing.T) {
	llm := &scriptedLLM{replies: []string{"P1", "P2", "P3"}, failAt: 2}
	_, err := New(llm, nil, nil).Summarize(context.Background(), "PAPER")
	var me *core.ModelError
	if !errors.As(err, &me) {
		t.Fatalf("expected the model error unchanged, got %v", err)
	}
	if len(llm.prompts) != 2 {
		t.Fatalf("third pass must not run after a failure, got %d calls", len(llm.prompts))
	}
}

type recordingIngester struct {
	docs []models.Document
}

func (r *recordingIngester) Ingest(ctx context.Context, docs []models.Document) (models.IngestResult, error) {
	r.docs = append(r.docs, docs...)
	return models.IngestResult{Chunks: 1}, nil
}

func TestIngestEnrichedContent(t *testing.T) {
	ing := &recordingIngester{}
	New(&scriptedLLM{}, ing, nil).Ingest(context.Background(), "Paper", "https://arxiv.org/abs/1", Result{Pass1: "a", Pass2: "b", Pass3: "c"})
	if len(ing.docs) != 1 || ing.docs[0].Text != "abc" || ing.docs[0].Source != "https://arxiv.org/abs/1" {
		t.Fatalf("unexpected ingested docs %+v", ing.docs)
	}
}
