package retrieval

import (
	"context"
	"errors"
	"log"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/mohammad-safakhou/podcaster/internal/agent/core"
	"github.com/mohammad-safakhou/podcaster/internal/agent/telemetry"
)

var tracer = otel.Tracer("podcaster/internal/agent/retrieval")

// Source pairs an adapter with the format of its context block.
// A nil Format is resolved from the adapter name.
type Source struct {
	Retriever core.Retriever
	Format    Formatter
}

// Gatherer fans one query out to every source.
type Gatherer struct {
	Sources   []Source
	K         int
	Telemetry *telemetry.Telemetry
	Logger    *log.Logger
}

func NewGatherer(sources []Source, k int, tel *telemetry.Telemetry, logger *log.Logger) *Gatherer {
	if logger == nil {
		logger = log.New(log.Writer(), "[RETRIEVAL] ", log.LstdFlags)
	}
	return &Gatherer{Sources: sources, K: k, Telemetry: tel, Logger: logger}
}

// Gather runs every adapter with the default gatherer settings.
func Gather(ctx context.Context, sources []Source, query string, k int) []string {
	return NewGatherer(sources, k, nil, nil).Gather(ctx, query)
}

// Gather queries all sources concurrently and returns one block per source,
// in source order. A failing or empty source yields an empty block.
func (g *Gatherer) Gather(ctx context.Context, query string) []string {
	ctx, span := tracer.Start(ctx, "retrieval.gather")
	defer span.End()
	span.SetAttributes(attribute.Int("sources", len(g.Sources)))

	blocks := make([]string, len(g.Sources))
	var eg errgroup.Group
	for i, src := range g.Sources {
		i, src := i, src
		eg.Go(func() error {
			blocks[i] = g.one(ctx, src, query)
			return nil
		})
	}
	_ = eg.Wait()
	return blocks
}

func (g *Gatherer) one(ctx context.Context, src Source, query string) string {
	name := src.Retriever.Name()
	start := time.Now()
	passages, err := src.Retriever.Search(ctx, query, g.K)
	g.Telemetry.RecordSourceEvent(ctx, telemetry.SourceEvent{
		Source:   name,
		Duration: time.Since(start),
		Success:  err == nil,
		Results:  len(passages),
	})
	if err != nil {
		var re *core.RetrievalError
		if !errors.As(err, &re) {
			err = &core.RetrievalError{Adapter: name, Query: query, Err: err}
		}
		g.Logger.Printf("%v; continuing with an empty block", err)
		return ""
	}
	format := src.Format
	if format == nil {
		format = FormatterFor(name)
	}
	return format(passages)
}
