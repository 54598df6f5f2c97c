package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mohammad-safakhou/podcaster/config"
	anthropic_provider "github.com/mohammad-safakhou/podcaster/provider/anthropic"
	gemini_provider "github.com/mohammad-safakhou/podcaster/provider/gemini"
	openai_provider "github.com/mohammad-safakhou/podcaster/provider/openai"
	"github.com/mohammad-safakhou/podcaster/provider/types"
)

// Client represents different LLM providers
type Client string

const (
	OpenAI    Client = "openai"
	Anthropic Client = "anthropic"
	Gemini    Client = "gemini"
)

type (
	Message      = types.Message
	ChatRequest  = types.ChatRequest
	ChatResponse = types.ChatResponse
)

// Provider is the interface that all LLM implementations must satisfy
type Provider interface {
	Name() string
	Chat(ctx context.Context, req ChatRequest) (ChatResponse, error)
}

// Embedder is implemented by providers that can embed text.
type Embedder interface {
	Embed(ctx context.Context, model string, texts []string) ([][]float32, error)
}

// NewProvider creates a new LLM client based on the provided configuration
func NewProvider(cfg config.LLMProvider) (Provider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("api_key not set")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	switch Client(cfg.Type) {
	case OpenAI:
		return openai_provider.NewOpenAIClient(cfg.APIKey, cfg.BaseURL, timeout), nil
	case Anthropic:
		return anthropic_provider.NewClient(cfg.APIKey, cfg.BaseURL, timeout), nil
	case Gemini:
		return gemini_provider.NewClient(context.Background(), cfg.APIKey)
	default:
		return nil, fmt.Errorf("unsupported LLM provider %q", cfg.Type)
	}
}

// NewProviders builds every configured provider keyed by its config name.
func NewProviders(cfg config.LLMConfig) (map[string]Provider, error) {
	out := make(map[string]Provider, len(cfg.Providers))
	for name, pc := range cfg.Providers {
		p, err := NewProvider(pc)
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", name, err)
		}
		out[name] = p
	}
	return out, nil
}
