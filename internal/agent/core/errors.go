package core

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

// Pipeline stage names reported by StageError.
const (
	StageReadSource        = "read_source"
	StageSummarize         = "summarize"
	StageGenerateAnalysts  = "generate_analysts"
	StageInterview         = "interview"
	StageWriteReport       = "write_report"
	StageWriteIntroduction = "write_introduction"
	StageWriteConclusion   = "write_conclusion"
	StagePlanOutline       = "plan_outline"
	StageWriteScript       = "write_script"
)

// SourceReadError is raised when a PDF, arXiv paper or text source cannot be read.
type SourceReadError struct {
	Source string
	Err    error
}

func (e *SourceReadError) Error() string {
	return fmt.Sprintf("read source %s: %v", e.Source, e.Err)
}

func (e *SourceReadError) Unwrap() error { return e.Err }

// ModelError wraps a provider or network failure of an LLM call.
type ModelError struct {
	Provider string
	Model    string
	Status   int
	Err      error
}

func (e *ModelError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("model %s/%s: status %d: %v", e.Provider, e.Model, e.Status, e.Err)
	}
	return fmt.Sprintf("model %s/%s: %v", e.Provider, e.Model, e.Err)
}

func (e *ModelError) Unwrap() error { return e.Err }

// Transient reports whether retrying the call may succeed.
func (e *ModelError) Transient() bool {
	if e.Status == http.StatusTooManyRequests || e.Status >= 500 {
		return true
	}
	return IsTransient(e.Err)
}

// SchemaValidationError is raised when structured output does not match its schema.
type SchemaValidationError struct {
	Schema string
	Raw    string
	Err    error
}

func (e *SchemaValidationError) Error() string {
	return fmt.Sprintf("schema %s: %v", e.Schema, e.Err)
}

func (e *SchemaValidationError) Unwrap() error { return e.Err }

// RetrievalError is a transport failure inside a retrieval adapter.
// The interview workflow recovers it into an empty context block.
type RetrievalError struct {
	Adapter string
	Query   string
	Err     error
}

func (e *RetrievalError) Error() string {
	return fmt.Sprintf("retrieval %s (%q): %v", e.Adapter, e.Query, e.Err)
}

func (e *RetrievalError) Unwrap() error { return e.Err }

// StageError names the pipeline stage that failed.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// StatusError is returned by HTTPClient for non-2xx responses.
type StatusError struct {
	Status     int
	Body       string
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%d %s: %s", e.Status, http.StatusText(e.Status), e.Body)
}

// IsTransient classifies errors worth retrying: deadlines, network timeouts,
// 429 and 5xx responses. Caller cancellation is never transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Status == http.StatusTooManyRequests || se.Status >= 500
	}
	var me *ModelError
	if errors.As(err, &me) && me.Status > 0 {
		return me.Status == http.StatusTooManyRequests || me.Status >= 500
	}
	return false
}
