package summarize

import (
	"context"
	"fmt"
	"log"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mohammad-safakhou/podcaster/internal/agent/core"
	"github.com/mohammad-safakhou/podcaster/tools/vector_store/models"
)

var tracer = otel.Tracer("podcaster/internal/agent/summarize")

// Result holds the three reading passes in order.
type Result struct {
	Pass1 string
	Pass2 string
	Pass3 string
}

// Enriched concatenates the passes; the outline planner expects pass 1 first.
func (r Result) Enriched() string {
	return r.Pass1 + r.Pass2 + r.Pass3
}

// Ingester stores documents for later retrieval.
type Ingester interface {
	Ingest(ctx context.Context, docs []models.Document) (models.IngestResult, error)
}

type Summarizer struct {
	llm      core.LLM
	ingester Ingester
	logger   *log.Logger
}

// New builds a summarizer. ingester may be nil.
func New(llm core.LLM, ingester Ingester, logger *log.Logger) *Summarizer {
	if logger == nil {
		logger = log.New(log.Writer(), "[SUMMARIZER] ", log.LstdFlags)
	}
	return &Summarizer{llm: llm, ingester: ingester, logger: logger}
}

// Summarize runs the three passes sequentially. Any failed pass aborts
// with the model error unchanged.
func (s *Summarizer) Summarize(ctx context.Context, content string) (Result, error) {
	ctx, span := tracer.Start(ctx, "summarize")
	defer span.End()
	span.SetAttributes(attribute.Int("content_runes", len([]rune(content))))

	var res Result
	var err error
	start := time.Now()

	if res.Pass1, err = s.pass(ctx, 1, fmt.Sprintf(pass1Template, content)); err != nil {
		return Result{}, s.fail(span, err)
	}
	if res.Pass2, err = s.pass(ctx, 2, fmt.Sprintf(pass2Template, res.Pass1, content)); err != nil {
		return Result{}, s.fail(span, err)
	}
	if res.Pass3, err = s.pass(ctx, 3, fmt.Sprintf(pass3Template, res.Pass1, res.Pass2, content)); err != nil {
		return Result{}, s.fail(span, err)
	}
	s.logger.Printf("three passes done in %s", time.Since(start).Round(time.Millisecond))
	return res, nil
}

// Ingest stores the enriched content in the reference library. Failures are
// logged only.
func (s *Summarizer) Ingest(ctx context.Context, title, source string, res Result) {
	resp, err := s.Store(ctx, title, source, res)
	if err != nil {
		s.logger.Printf("ingest summary %q: %v", title, err)
		return
	}
	if resp.Chunks > 0 {
		s.logger.Printf("ingested summary %q as %d chunks", title, resp.Chunks)
	}
}

// Store is Ingest with the error returned. A nil ingester stores nothing.
func (s *Summarizer) Store(ctx context.Context, title, source string, res Result) (models.IngestResult, error) {
	if s.ingester == nil {
		return models.IngestResult{}, nil
	}
	return s.ingester.Ingest(ctx, []models.Document{{Source: source, Title: title, Text: res.Enriched()}})
}

func (s *Summarizer) pass(ctx context.Context, n int, prompt string) (string, error) {
	s.logger.Printf("pass %d", n)
	return s.llm.Complete(ctx, core.UserPrompt(core.TaskAnalysis, prompt))
}

func (s *Summarizer) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
