package core

import "context"

// Task selects which configured model serves a prompt.
type Task string

const (
	TaskPlanning  Task = "planning"
	TaskChatting  Task = "chatting"
	TaskAnalysis  Task = "analysis"
	TaskSynthesis Task = "synthesis"
	TaskResearch  Task = "research"
)

// Prompt is a single completion request.
type Prompt struct {
	Task        Task
	System      string
	Messages    []Message
	Temperature float64
}

// UserPrompt builds a prompt with a single human message.
func UserPrompt(task Task, content string) Prompt {
	return Prompt{Task: task, Messages: []Message{HumanMessage(content)}}
}

// LLM issues one completion per call and never retries on its own.
// Complete fails with *ModelError. CompleteStructured additionally fails with
// *SchemaValidationError when the output does not match the named schema.
type LLM interface {
	Complete(ctx context.Context, p Prompt) (string, error)
	CompleteStructured(ctx context.Context, p Prompt, schema string, out any) error
}

// Passage is one ranked retrieval result.
type Passage struct {
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Retriever returns ranked passages for a query. An empty result is not an
// error; transport failures are reported as *RetrievalError.
type Retriever interface {
	Name() string
	Search(ctx context.Context, query string, k int) ([]Passage, error)
}

// DocumentReader converts a source reference into normalized text.
type DocumentReader interface {
	Read(ctx context.Context, source string) (string, error)
}
