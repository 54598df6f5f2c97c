package runtime

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/podcaster/config"
	"github.com/mohammad-safakhou/podcaster/provider"
)

type nopProvider struct{}

func (nopProvider) Name() string { return "nop" }

func (nopProvider) Chat(ctx context.Context, req provider.ChatRequest) (provider.ChatResponse, error) {
	return provider.ChatResponse{Text: "{}"}, nil
}

func testConfig() *config.Config {
	return &config.Config{
		LLM: config.LLMConfig{
			Providers: map[string]config.LLMProvider{"main": {Type: "openai", APIKey: "k"}},
			Routing:   config.LLMRoutingConfig{Fallback: "main/gpt-4o-mini"},
		},
		Pipeline: config.PipelineConfig{}.Normalize(),
		Sources: config.SourcesConfig{
			Wikipedia: config.WikipediaConfig{Enabled: true},
			Arxiv:     config.ArxivConfig{Enabled: true},
		}.Normalize(),
		VectorStore: config.VectorStoreConfig{Enabled: true, IngestSummaries: true}.Normalize(),
		Streams:     config.StreamsConfig{}.Normalize(),
	}
}

func TestBuildWiresSources(t *testing.T) {
	app, err := Build(context.Background(), testConfig(), Options{Providers: map[string]provider.Provider{"main": nopProvider{}}})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer app.Close()

	if app.Pipelines == nil || app.Vector == nil || app.Library == nil {
		t.Fatalf("pipeline service, vector store and reference library should be wired")
	}
	if app.Store != nil || app.Jobs != nil || app.Speech != nil {
		t.Fatalf("unconfigured outer components must stay nil")
	}
	if !errors.Is(app.JobsReady(), ErrJobsUnavailable) {
		t.Fatalf("jobs should be unavailable without streams")
	}
	srcs, err := buildSources(testConfig(), app.Vector, nil)
	if err != nil {
		t.Fatalf("buildSources: %v", err)
	}
	var names []string
	for _, s := range srcs {
		names = append(names, s.Retriever.Name())
	}
	if len(names) != 3 || names[0] != "encyclopedia" || names[1] != "papers" || names[2] != "vector_store" {
		t.Fatalf("unexpected sources %v", names)
	}
}

func TestBuildStreamsNeedRedis(t *testing.T) {
	cfg := testConfig()
	cfg.Streams.Enabled = true
	if _, err := Build(context.Background(), cfg, Options{Providers: map[string]provider.Provider{"main": nopProvider{}}}); err == nil {
		t.Fatalf("expected error when streams are enabled without redis")
	}
}

func TestSpeechKeyFallsBackToOpenAIProvider(t *testing.T) {
	cfg := testConfig()
	if got := speechKey(cfg); got != "k" {
		t.Fatalf("expected provider key, got %q", got)
	}
	cfg.TTS.APIKey = "tts"
	if got := speechKey(cfg); got != "tts" {
		t.Fatalf("explicit tts key should win, got %q", got)
	}
}

func TestEchoAuthMiddleware(t *testing.T) {
	secret := []byte("s3cret")
	tok, err := SignJWT("alice", secret, time.Minute, "scripts:write")
	if err != nil {
		t.Fatalf("SignJWT: %v", err)
	}
	e := echo.New()
	handler := EchoAuthMiddleware(secret)(RequireScopes("scripts:write")(func(c echo.Context) error {
		sub, _ := SubjectFromContext(c.Request().Context())
		return c.String(http.StatusOK, sub)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec := httptest.NewRecorder()
	if err := handler(e.NewContext(req, rec)); err != nil {
		t.Fatalf("authorized request failed: %v", err)
	}
	if rec.Body.String() != "alice" {
		t.Fatalf("subject not propagated: %q", rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	err = handler(e.NewContext(req, httptest.NewRecorder()))
	var he *echo.HTTPError
	if !errors.As(err, &he) || he.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", err)
	}

	readOnly, _ := SignJWT("bob", secret, time.Minute)
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+readOnly)
	err = handler(e.NewContext(req, httptest.NewRecorder()))
	if !errors.As(err, &he) || he.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for missing scope, got %v", err)
	}
}

func TestLoadJWTSecret(t *testing.T) {
	if _, ok := LoadJWTSecret(&config.Config{}); ok {
		t.Fatalf("empty secret should disable auth")
	}
	cfg := &config.Config{Server: config.ServerConfig{JWTSecret: " x "}}
	if s, ok := LoadJWTSecret(cfg); !ok || string(s) != "x" {
		t.Fatalf("unexpected secret %q %v", s, ok)
	}
}

type embeddingProvider struct{ nopProvider }

func (embeddingProvider) Embed(ctx context.Context, model string, texts []string) ([][]float32, error) {
	return make([][]float32, len(texts)), nil
}

func TestBuildEmbedsThroughGateway(t *testing.T) {
	cfg := testConfig()
	cfg.LLM.Embedding = config.EmbeddingConfig{Provider: "main", Model: "text-embedding-3-small"}

	app, err := Build(context.Background(), cfg, Options{Providers: map[string]provider.Provider{"main": nopProvider{}}})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if app.Vector.Embedding != nil {
		t.Fatalf("a chat-only provider must leave the vector store on BM25")
	}
	app.Close()

	app, err = Build(context.Background(), cfg, Options{Providers: map[string]provider.Provider{"main": embeddingProvider{}}})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer app.Close()
	if app.Vector.Embedding == nil {
		t.Fatalf("embedding provider should enable vector search")
	}
	vecs, err := app.Vector.Embedding.EmbedMany(context.Background(), []string{"a", "b"})
	if err != nil || len(vecs) != 2 {
		t.Fatalf("EmbedMany: %v %v", vecs, err)
	}
}
