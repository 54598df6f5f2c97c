package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/mohammad-safakhou/podcaster/config"
	"github.com/mohammad-safakhou/podcaster/internal/agent/core"
	"github.com/mohammad-safakhou/podcaster/internal/agent/telemetry"
	"github.com/mohammad-safakhou/podcaster/provider"
)

var gatewayTracer = otel.Tracer("podcaster/internal/agent/llm")

const structuredInstruction = "Respond ONLY with a single JSON object that conforms to the following JSON Schema. Do not include any other text or explanation.\n"

// Gateway issues one completion per call against the model routed for the
// prompt's task. It never retries; wrap it in Retrying for that.
type Gateway struct {
	cfg       config.LLMConfig
	providers map[string]provider.Provider
	telemetry *telemetry.Telemetry
	logger    *log.Logger
}

// NewGateway builds a gateway over already-constructed providers.
func NewGateway(cfg config.LLMConfig, providers map[string]provider.Provider, tel *telemetry.Telemetry, logger *log.Logger) *Gateway {
	if logger == nil {
		logger = log.New(log.Writer(), "[GATEWAY] ", log.LstdFlags)
	}
	return &Gateway{cfg: cfg, providers: providers, telemetry: tel, logger: logger}
}

type route struct {
	providerName string
	provider     provider.Provider
	model        config.LLMModel
}

func (g *Gateway) routeRef(task core.Task) string {
	var ref string
	switch task {
	case core.TaskPlanning:
		ref = g.cfg.Routing.Planning
	case core.TaskChatting:
		ref = g.cfg.Routing.Chatting
	case core.TaskAnalysis:
		ref = g.cfg.Routing.Analysis
	case core.TaskSynthesis:
		ref = g.cfg.Routing.Synthesis
	case core.TaskResearch:
		ref = g.cfg.Routing.Research
	}
	if ref == "" {
		ref = g.cfg.Routing.Fallback
	}
	return ref
}

func (g *Gateway) resolve(task core.Task) (route, error) {
	ref := g.routeRef(task)
	providerName, modelKey, ok := strings.Cut(ref, "/")
	if !ok {
		return route{}, fmt.Errorf("no model routed for task %q", task)
	}
	p, ok := g.providers[providerName]
	if !ok {
		return route{}, fmt.Errorf("provider %q not configured", providerName)
	}
	model, ok := g.cfg.Providers[providerName].Models[modelKey]
	if !ok {
		model = config.LLMModel{Name: modelKey, APIName: modelKey}
	}
	if model.APIName == "" {
		model.APIName = modelKey
	}
	return route{providerName: providerName, provider: p, model: model}, nil
}

// Complete returns the raw completion text.
func (g *Gateway) Complete(ctx context.Context, p core.Prompt) (string, error) {
	return g.complete(ctx, p, false)
}

// CompleteStructured asks for JSON matching the named schema and decodes it into out.
func (g *Gateway) CompleteStructured(ctx context.Context, p core.Prompt, schema string, out any) error {
	schemaText, err := SchemaText(schema)
	if err != nil {
		return &core.SchemaValidationError{Schema: schema, Err: err}
	}
	if p.System != "" {
		p.System += "\n\n"
	}
	p.System += structuredInstruction + schemaText

	text, err := g.complete(ctx, p, true)
	if err != nil {
		return err
	}
	return DecodeStructured(schema, text, out)
}

// DecodeStructured extracts, validates and decodes a structured completion.
func DecodeStructured(schema, text string, out any) error {
	raw := extractFirstJSON(strings.TrimSpace(text))
	if err := ValidateDocument(schema, []byte(raw)); err != nil {
		return &core.SchemaValidationError{Schema: schema, Raw: text, Err: err}
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return &core.SchemaValidationError{Schema: schema, Raw: text, Err: err}
	}
	return nil
}

func (g *Gateway) complete(ctx context.Context, p core.Prompt, structured bool) (string, error) {
	r, err := g.resolve(p.Task)
	if err != nil {
		return "", &core.ModelError{Provider: "unrouted", Model: string(p.Task), Err: err}
	}

	ctx, span := gatewayTracer.Start(ctx, "llm.complete")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.task", string(p.Task)),
		attribute.String("llm.provider", r.providerName),
		attribute.String("llm.model", r.model.APIName),
		attribute.Bool("llm.structured", structured),
	)

	req := provider.ChatRequest{
		Model:       r.model.APIName,
		System:      p.System,
		Messages:    toProviderMessages(p.Messages),
		Temperature: p.Temperature,
		MaxTokens:   r.model.MaxTokens,
		JSON:        structured,
	}
	if req.Temperature == 0 {
		req.Temperature = r.model.Temperature
	}

	start := time.Now()
	resp, err := r.provider.Chat(ctx, req)
	elapsed := time.Since(start)

	event := telemetry.LLMEvent{
		Task:         string(p.Task),
		Provider:     r.providerName,
		Model:        r.model.APIName,
		Duration:     elapsed,
		InputTokens:  resp.InputTokens,
		OutputTokens: resp.OutputTokens,
		Cost:         telemetry.CalculateCost(resp.InputTokens, resp.OutputTokens, r.model.CostPer1K, r.model.CostPer1KOutput),
		Success:      err == nil,
	}
	g.telemetry.RecordLLMEvent(ctx, event)

	if err != nil {
		merr := &core.ModelError{Provider: r.providerName, Model: r.model.APIName, Err: err}
		var se *core.StatusError
		if errors.As(err, &se) {
			merr.Status = se.Status
		}
		span.RecordError(merr)
		span.SetStatus(codes.Error, "completion failed")
		g.logger.Printf("task=%s model=%s/%s failed after %v: %v", p.Task, r.providerName, r.model.APIName, elapsed, err)
		return "", merr
	}
	if strings.TrimSpace(resp.Text) == "" {
		merr := &core.ModelError{Provider: r.providerName, Model: r.model.APIName, Err: errors.New("empty completion")}
		span.RecordError(merr)
		span.SetStatus(codes.Error, "empty completion")
		return "", merr
	}
	span.SetAttributes(
		attribute.Int64("llm.input_tokens", resp.InputTokens),
		attribute.Int64("llm.output_tokens", resp.OutputTokens),
	)
	return resp.Text, nil
}

// CanEmbed reports whether the configured embedding provider exists and
// supports embeddings.
func (g *Gateway) CanEmbed() bool {
	if g.cfg.Embedding.Provider == "" || g.cfg.Embedding.Model == "" {
		return false
	}
	_, ok := g.providers[g.cfg.Embedding.Provider].(provider.Embedder)
	return ok
}

// Embed embeds texts with the configured embedding provider.
func (g *Gateway) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	name := g.cfg.Embedding.Provider
	p, ok := g.providers[name]
	if !ok {
		return nil, fmt.Errorf("embedding provider %q not configured", name)
	}
	e, ok := p.(provider.Embedder)
	if !ok {
		return nil, fmt.Errorf("provider %q does not support embeddings", name)
	}
	ctx, span := gatewayTracer.Start(ctx, "llm.embed")
	defer span.End()
	span.SetAttributes(attribute.String("llm.provider", name), attribute.Int("llm.texts", len(texts)))
	vecs, err := e.Embed(ctx, g.cfg.Embedding.Model, texts)
	if err != nil {
		merr := &core.ModelError{Provider: name, Model: g.cfg.Embedding.Model, Err: err}
		var se *core.StatusError
		if errors.As(err, &se) {
			merr.Status = se.Status
		}
		span.RecordError(merr)
		span.SetStatus(codes.Error, "embedding failed")
		return nil, merr
	}
	if len(vecs) != len(texts) {
		return nil, &core.ModelError{Provider: name, Model: g.cfg.Embedding.Model, Err: fmt.Errorf("got %d vectors for %d texts", len(vecs), len(texts))}
	}
	return vecs, nil
}

func toProviderMessages(msgs []core.Message) []provider.Message {
	out := make([]provider.Message, 0, len(msgs))
	for _, m := range msgs {
		role := "user"
		if m.Role == core.RoleAI {
			role = "assistant"
		}
		out = append(out, provider.Message{Role: role, Content: m.Content})
	}
	return out
}
