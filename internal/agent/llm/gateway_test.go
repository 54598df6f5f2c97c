package llm

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mohammad-safakhou/podcaster/config"
	"github.com/mohammad-safakhou/podcaster/internal/agent/core"
	"github.com/mohammad-safakhou/podcaster/internal/agent/telemetry"
	"github.com/mohammad-safakhou/podcaster/provider"
)

type stubProvider struct {
	mu       sync.Mutex
	replies  []string
	errs     []error
	requests []provider.ChatRequest
}

func (s *stubProvider) Name() string { return "stub" }

func (s *stubProvider) Chat(ctx context.Context, req provider.ChatRequest) (provider.ChatResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	i := len(s.requests) - 1
	if i < len(s.errs) && s.errs[i] != nil {
		return provider.ChatResponse{}, s.errs[i]
	}
	reply := ""
	if i < len(s.replies) {
		reply = s.replies[i]
	} else if len(s.replies) > 0 {
		reply = s.replies[len(s.replies)-1]
	}
	return provider.ChatResponse{Text: reply, InputTokens: 10, OutputTokens: 5}, nil
}

func newTestGateway(p *stubProvider) *Gateway {
	cfg := config.LLMConfig{
		Providers: map[string]config.LLMProvider{
			"stub": {Type: "openai", Models: map[string]config.LLMModel{
				"writer": {APIName: "writer-v2", Temperature: 0.7},
			}},
		},
		Routing: config.LLMRoutingConfig{Chatting: "stub/writer", Fallback: "stub/small"},
	}
	return NewGateway(cfg, map[string]provider.Provider{"stub": p}, telemetry.NewTelemetry(config.TelemetryConfig{}), nil)
}

func TestCompleteRoutesByTask(t *testing.T) {
	p := &stubProvider{replies: []string{"hello", "world"}}
	g := newTestGateway(p)
	ctx := context.Background()

	if _, err := g.Complete(ctx, core.Prompt{Task: core.TaskChatting, System: "sys", Messages: []core.Message{core.HumanMessage("hi"), core.AIMessage("yo")}}); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if _, err := g.Complete(ctx, core.UserPrompt(core.TaskPlanning, "plan")); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if p.requests[0].Model != "writer-v2" || p.requests[0].Temperature != 0.7 {
		t.Fatalf("chatting should route to writer-v2, got %+v", p.requests[0])
	}
	if p.requests[0].Messages[1].Role != "assistant" {
		t.Fatalf("ai messages must map to assistant role")
	}
	if p.requests[1].Model != "small" {
		t.Fatalf("unrouted task should use fallback model, got %q", p.requests[1].Model)
	}
}

func TestCompleteWrapsProviderErrors(t *testing.T) {
	p := &stubProvider{errs: []error{&core.StatusError{Status: 503, Body: "overloaded"}}}
	g := newTestGateway(p)
	_, err := g.Complete(context.Background(), core.UserPrompt(core.TaskChatting, "x"))
	var me *core.ModelError
	if !errors.As(err, &me) {
		t.Fatalf("expected ModelError, got %v", err)
	}
	if me.Status != 503 || !me.Transient() || me.Provider != "stub" {
		t.Fatalf("unexpected model error: %+v", me)
	}
}

func TestCompleteStructuredValidates(t *testing.T) {
	p := &stubProvider{replies: []string{"Sure! ```json\n{\"search_query\": \"llama 3 {taiwan} fine-tuning\"}\n```"}}
	g := newTestGateway(p)

	var out struct {
		SearchQuery string `json:"search_query"`
	}
	if err := g.CompleteStructured(context.Background(), core.UserPrompt(core.TaskResearch, "q"), SchemaSearchQuery, &out); err != nil {
		t.Fatalf("CompleteStructured: %v", err)
	}
	if out.SearchQuery != "llama 3 {taiwan} fine-tuning" {
		t.Fatalf("unexpected query %q", out.SearchQuery)
	}
	if !p.requests[0].JSON || !strings.Contains(p.requests[0].System, `"search_query"`) {
		t.Fatalf("structured call must request JSON and embed the schema")
	}
}

func TestCompleteStructuredRejectsMismatch(t *testing.T) {
	p := &stubProvider{replies: []string{`{"plan": []}`}}
	g := newTestGateway(p)

	var out core.OutlinePlan
	err := g.CompleteStructured(context.Background(), core.UserPrompt(core.TaskPlanning, "q"), SchemaOutline, &out)
	var sve *core.SchemaValidationError
	if !errors.As(err, &sve) {
		t.Fatalf("expected SchemaValidationError, got %v", err)
	}
	if sve.Schema != SchemaOutline || sve.Raw == "" {
		t.Fatalf("unexpected error fields: %+v", sve)
	}
}

func TestExtractFirstJSONIgnoresBracesInStrings(t *testing.T) {
	in := `noise {"a": "}{", "b": {"c": 1}} trailing {"d": 2}`
	if got := extractFirstJSON(in); got != `{"a": "}{", "b": {"c": 1}}` {
		t.Fatalf("unexpected extraction %q", got)
	}
}

func TestRetryingRetriesTransientOnly(t *testing.T) {
	p := &stubProvider{
		errs:    []error{&core.StatusError{Status: 429}, nil},
		replies: []string{"", "ok"},
	}
	r := WithRetries(newTestGateway(p), 2, time.Millisecond)
	got, err := r.Complete(context.Background(), core.UserPrompt(core.TaskChatting, "x"))
	if err != nil || got != "ok" {
		t.Fatalf("expected retry to succeed, got %q %v", got, err)
	}

	bad := &stubProvider{replies: []string{"not json"}}
	r = WithRetries(newTestGateway(bad), 3, time.Millisecond)
	var out map[string]any
	if err := r.CompleteStructured(context.Background(), core.UserPrompt(core.TaskChatting, "x"), SchemaDialogue, &out); err == nil {
		t.Fatalf("expected schema error")
	}
	if len(bad.requests) != 1 {
		t.Fatalf("schema errors must not be retried, got %d calls", len(bad.requests))
	}
}

func TestWithRetriesZeroIsPassthrough(t *testing.T) {
	g := newTestGateway(&stubProvider{})
	if WithRetries(g, 0, 0) != core.LLM(g) {
		t.Fatalf("zero attempts should return the gateway unchanged")
	}
}

type blockingLLM struct{}

func (blockingLLM) Complete(ctx context.Context, p core.Prompt) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func (blockingLLM) CompleteStructured(ctx context.Context, p core.Prompt, schema string, out any) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestCallTimeoutBoundsEachCall(t *testing.T) {
	m := WithCallTimeout(blockingLLM{}, 20*time.Millisecond)
	start := time.Now()
	_, err := m.Complete(context.Background(), core.UserPrompt(core.TaskChatting, "x"))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("call was not bounded")
	}
	if WithCallTimeout(blockingLLM{}, 0) != core.LLM(blockingLLM{}) {
		t.Fatalf("zero timeout should return the model unchanged")
	}
}

type embedProvider struct {
	stubProvider
	model string
	err   error
}

func (e *embedProvider) Embed(ctx context.Context, model string, texts []string) ([][]float32, error) {
	e.model = model
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{float32(i), 1}
	}
	return out, nil
}

func TestEmbedUsesEmbeddingProvider(t *testing.T) {
	emb := &embedProvider{}
	cfg := config.LLMConfig{Embedding: config.EmbeddingConfig{Provider: "emb", Model: "text-embedding-3-small"}}
	g := NewGateway(cfg, map[string]provider.Provider{"emb": emb, "chat": &stubProvider{}}, telemetry.NewTelemetry(config.TelemetryConfig{}), nil)
	if !g.CanEmbed() {
		t.Fatalf("embedding provider should be usable")
	}
	vecs, err := g.Embed(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vecs) != 2 || emb.model != "text-embedding-3-small" {
		t.Fatalf("unexpected embed call: %v model=%q", vecs, emb.model)
	}

	emb.err = &core.StatusError{Status: 429, Body: "slow down"}
	_, err = g.Embed(context.Background(), []string{"a"})
	var me *core.ModelError
	if !errors.As(err, &me) || me.Status != 429 || me.Provider != "emb" {
		t.Fatalf("expected ModelError with status 429, got %v", err)
	}

	chatOnly := NewGateway(config.LLMConfig{Embedding: config.EmbeddingConfig{Provider: "chat", Model: "m"}}, map[string]provider.Provider{"chat": &stubProvider{}}, telemetry.NewTelemetry(config.TelemetryConfig{}), nil)
	if chatOnly.CanEmbed() {
		t.Fatalf("chat-only provider cannot embed")
	}
	if _, err := chatOnly.Embed(context.Background(), []string{"a"}); err == nil {
		t.Fatalf("expected error for provider without embeddings")
	}
}
