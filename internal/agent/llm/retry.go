package llm

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/mohammad-safakhou/podcaster/internal/agent/core"
)

// Retrying is a caller-side decorator that retries transient model errors.
// Schema validation failures are returned immediately.
type Retrying struct {
	Next     core.LLM
	Attempts int // extra attempts after the first call
	Backoff  time.Duration
	Logger   *log.Logger
}

// WithRetries wraps next unless attempts is zero.
func WithRetries(next core.LLM, attempts int, backoff time.Duration) core.LLM {
	if attempts <= 0 {
		return next
	}
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}
	return &Retrying{Next: next, Attempts: attempts, Backoff: backoff, Logger: log.New(log.Writer(), "[GATEWAY] ", log.LstdFlags)}
}

func (r *Retrying) Complete(ctx context.Context, p core.Prompt) (string, error) {
	var out string
	err := r.do(ctx, func() error {
		var err error
		out, err = r.Next.Complete(ctx, p)
		return err
	})
	return out, err
}

func (r *Retrying) CompleteStructured(ctx context.Context, p core.Prompt, schema string, out any) error {
	return r.do(ctx, func() error {
		return r.Next.CompleteStructured(ctx, p, schema, out)
	})
}

func (r *Retrying) do(ctx context.Context, call func() error) error {
	var err error
	for attempt := 0; attempt <= r.Attempts; attempt++ {
		err = call()
		if err == nil {
			return nil
		}
		var me *core.ModelError
		if !errors.As(err, &me) || !me.Transient() || attempt == r.Attempts {
			return err
		}
		if r.Logger != nil {
			r.Logger.Printf("transient model error (attempt %d/%d): %v", attempt+1, r.Attempts+1, err)
		}
		select {
		case <-time.After(r.Backoff * time.Duration(1<<attempt)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}
