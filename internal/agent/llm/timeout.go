package llm

import (
	"context"
	"time"

	"github.com/mohammad-safakhou/podcaster/internal/agent/core"
)

// CallTimeout bounds every completion with its own deadline.
type CallTimeout struct {
	Next    core.LLM
	Timeout time.Duration
}

// WithCallTimeout wraps next unless timeout is zero.
func WithCallTimeout(next core.LLM, timeout time.Duration) core.LLM {
	if timeout <= 0 {
		return next
	}
	return &CallTimeout{Next: next, Timeout: timeout}
}

func (c *CallTimeout) Complete(ctx context.Context, p core.Prompt) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()
	return c.Next.Complete(ctx, p)
}

func (c *CallTimeout) CompleteStructured(ctx context.Context, p core.Prompt, schema string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()
	return c.Next.CompleteStructured(ctx, p, schema, out)
}
