package types

// Message is one chat turn. Role is "user" or "assistant".
type Message struct {
	Role    string
	Content string
}

// ChatRequest is a provider-neutral completion request.
type ChatRequest struct {
	Model       string
	System      string
	Messages    []Message
	Temperature float64
	MaxTokens   int
	JSON        bool // ask for a JSON object when the backend supports it
}

// ChatResponse carries the completion text and token usage.
type ChatResponse struct {
	Text         string
	InputTokens  int64
	OutputTokens int64
}
