package runtime

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mohammad-safakhou/podcaster/config"
	"github.com/mohammad-safakhou/podcaster/internal/agent/core"
	"github.com/mohammad-safakhou/podcaster/internal/agent/llm"
	"github.com/mohammad-safakhou/podcaster/internal/agent/pipeline"
	"github.com/mohammad-safakhou/podcaster/internal/agent/reader"
	"github.com/mohammad-safakhou/podcaster/internal/agent/retrieval"
	"github.com/mohammad-safakhou/podcaster/internal/agent/summarize"
	"github.com/mohammad-safakhou/podcaster/internal/agent/telemetry"
	"github.com/mohammad-safakhou/podcaster/internal/queue/streams"
	"github.com/mohammad-safakhou/podcaster/internal/store"
	"github.com/mohammad-safakhou/podcaster/internal/tts"
	"github.com/mohammad-safakhou/podcaster/provider"
	"github.com/mohammad-safakhou/podcaster/tools/arxiv"
	"github.com/mohammad-safakhou/podcaster/tools/embedding"
	"github.com/mohammad-safakhou/podcaster/tools/vector_store"
	"github.com/mohammad-safakhou/podcaster/tools/web_fetch"
	"github.com/mohammad-safakhou/podcaster/tools/web_search"
	"github.com/mohammad-safakhou/podcaster/tools/wikipedia"
)

// ErrJobsUnavailable is returned when async jobs need Redis streams and Postgres.
var ErrJobsUnavailable = errors.New("async jobs require streams.enabled, storage.redis and storage.postgres")

// App holds the wired components shared by the CLI, HTTP server and worker.
// Store, Redis, Jobs, Speech, Vector and Library are nil when not configured.
type App struct {
	Config    *config.Config
	Pipelines *pipeline.Service
	Telemetry *telemetry.Telemetry
	Store     *store.Store
	Redis     *redis.Client
	Registry  *streams.SchemaRegistry
	Publisher *streams.Publisher
	Jobs      *streams.JobQueue
	Speech    *tts.Synthesizer
	Vector    *vector_store.VectorStore
	Library   *Library

	logger  *log.Logger
	closers []func() error
}

// Options controls which outer components Build connects.
type Options struct {
	Providers map[string]provider.Provider // overrides config-built providers
	Logger    *log.Logger
}

// Build wires configuration into providers, retrieval adapters, readers and
// the pipeline service, and connects Postgres, Redis streams and TTS when set.
func Build(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(log.Writer(), "[RUNTIME] ", log.LstdFlags)
	}
	app := &App{Config: cfg, logger: logger, Telemetry: telemetry.NewTelemetry(cfg.Telemetry)}

	providers := opts.Providers
	if providers == nil {
		var err error
		if providers, err = provider.NewProviders(cfg.LLM); err != nil {
			return nil, fmt.Errorf("llm providers: %w", err)
		}
	}
	gateway := llm.NewGateway(cfg.LLM, providers, app.Telemetry, nil)
	model := llm.WithRetries(gateway, cfg.Agents.MaxRetries, cfg.Agents.RetryBackoff)

	if cfg.Storage.Redis.Configured() {
		app.Redis = redis.NewClient(&redis.Options{
			Addr:        cfg.Storage.Redis.Addr(),
			Password:    cfg.Storage.Redis.Password,
			DB:          cfg.Storage.Redis.DB,
			DialTimeout: cfg.Storage.Redis.Timeout,
		})
		app.closers = append(app.closers, app.Redis.Close)
	}

	if cfg.VectorStore.Enabled {
		vs, err := vector_store.New(cfg.VectorStore, cfg.Storage, embedder(gateway))
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("vector store: %w", err)
		}
		app.Vector = vs
	}

	sources, err := buildSources(cfg, app.Vector, logger)
	if err != nil {
		app.Close()
		return nil, err
	}
	papers := arxiv.New(cfg.Sources.Arxiv.Endpoint, cfg.Sources.Arxiv.MaxResults, cfg.Sources.Arxiv.Timeout)
	arxivReader := reader.ArxivReader{
		Versions:     papers,
		Fetcher:      reader.HTTPFetcher{HTTP: core.NewHTTPClient(cfg.Sources.Arxiv.Timeout, 2, time.Second)},
		HTMLEndpoint: cfg.Sources.Arxiv.HTMLEndpoint,
	}
	if cfg.Sources.Arxiv.UseBrowser {
		browser, err := web_fetch.NewWebFetcher(web_fetch.ChromedpFetcherType, cfg.Sources.Arxiv.Timeout, 0)
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("arxiv browser: %w", err)
		}
		arxivReader.Fetcher = browser
	}

	deps := pipeline.Deps{
		LLM:       model,
		Sources:   sources,
		PDF:       reader.PDFReader{},
		Arxiv:     arxivReader,
		Telemetry: app.Telemetry,
		Events:    pipeline.NoopEvents,
	}
	if app.Vector != nil {
		deps.Library = app.Vector
		if cfg.VectorStore.IngestSummaries {
			deps.Ingester = summarize.Ingester(app.Vector)
		}
	}

	if cfg.Streams.Enabled {
		if app.Redis == nil {
			app.Close()
			return nil, fmt.Errorf("streams.enabled requires storage.redis")
		}
		if app.Registry, err = streams.NewBaseRegistry(); err != nil {
			app.Close()
			return nil, fmt.Errorf("stream schemas: %w", err)
		}
		app.Publisher = streams.NewPublisher(app.Redis, app.Registry, cfg.Streams.MaxLen)
		app.Jobs = streams.NewJobQueue(app.Publisher, cfg.Streams.JobsStream, cfg.Streams.EventsStream)
		deps.Events = streams.NewStageEmitter(app.Publisher, cfg.Streams.EventsStream)
	}
	app.Pipelines = pipeline.New(cfg.Pipeline, cfg.Agents, deps)
	if app.Vector != nil {
		app.Library = &Library{Service: app.Pipelines, VectorStore: app.Vector}
	}

	if cfg.Storage.Postgres.Configured() {
		st, err := store.New(ctx, cfg.Storage.Postgres)
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("postgres: %w", err)
		}
		app.Store = st
		app.closers = append(app.closers, st.Close)
	}

	if cfg.TTS.Enabled {
		app.Speech = tts.New(cfg.TTS, tts.NewOpenAISpeech(speechKey(cfg), cfg.TTS.BaseURL, cfg.TTS.Normalize().Model, 2*time.Minute), nil)
	}

	logger.Printf("runtime ready: %d retrieval sources, store=%t, streams=%t, tts=%t", len(sources), app.Store != nil, app.Jobs != nil, app.Speech != nil)
	return app, nil
}

// Library is the reference library: PDFs are summarized by the pipeline
// service and indexed, listed and removed through the vector store.
type Library struct {
	*pipeline.Service
	*vector_store.VectorStore
}

// JobsReady reports whether async jobs can be queued and persisted.
func (a *App) JobsReady() error {
	if a.Jobs == nil || a.Store == nil {
		return ErrJobsUnavailable
	}
	return nil
}

// Close releases connections in reverse order of creation.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func buildSources(cfg *config.Config, vector *vector_store.VectorStore, logger *log.Logger) ([]retrieval.Source, error) {
	var sources []retrieval.Source
	if ws := cfg.Sources.WebSearch; ws.Enabled {
		searcher, err := web_search.NewWebSearcher(web_search.Provider(ws.Provider), webSearchKey(ws), ws.Timeout)
		if err != nil {
			return nil, fmt.Errorf("web search: %w", err)
		}
		r := &web_search.Retriever{Searcher: searcher, MaxChars: ws.MaxChars, Logger: logger}
		if ws.FetchFullText {
			fetcher, err := web_fetch.NewWebFetcher(web_fetch.ChromedpFetcherType, ws.Timeout, ws.MaxChars)
			if err != nil {
				return nil, fmt.Errorf("web fetch: %w", err)
			}
			r.Fetcher = fetcher
		}
		sources = append(sources, retrieval.Source{Retriever: r})
	}
	if wk := cfg.Sources.Wikipedia; wk.Enabled {
		sources = append(sources, retrieval.Source{Retriever: wikipedia.New(wk.Endpoint, wk.MaxDocs, wk.MaxChars, wk.Timeout)})
	}
	if ax := cfg.Sources.Arxiv; ax.Enabled {
		sources = append(sources, retrieval.Source{Retriever: arxiv.New(ax.Endpoint, ax.MaxResults, ax.Timeout)})
	}
	if vector != nil {
		sources = append(sources, retrieval.Source{Retriever: vector})
	}
	return sources, nil
}

func webSearchKey(ws config.WebSearchConfig) string {
	switch ws.Provider {
	case string(web_search.BraveProvider):
		return ws.BraveAPIKey
	case string(web_search.SerperProvider):
		return ws.SerperAPIKey
	default:
		return ws.TavilyAPIKey
	}
}

// speechKey falls back to the first OpenAI LLM provider's key.
func speechKey(cfg *config.Config) string {
	if cfg.TTS.APIKey != "" {
		return cfg.TTS.APIKey
	}
	for _, p := range cfg.LLM.Providers {
		if p.Type == string(provider.OpenAI) && p.APIKey != "" {
			return p.APIKey
		}
	}
	return ""
}

// embedder returns nil when no embedding-capable provider is configured,
// leaving the vector store on BM25 only.
func embedder(gateway *llm.Gateway) *embedding.Embedding {
	if !gateway.CanEmbed() {
		return nil
	}
	return embedding.NewEmbedding(gateway)
}
