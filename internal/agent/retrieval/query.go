package retrieval

import (
	"context"
	"log"
	"strings"

	"github.com/mohammad-safakhou/podcaster/internal/agent/core"
	"github.com/mohammad-safakhou/podcaster/internal/agent/llm"
)

const searchInstructions = `You will be given a conversation between an analyst and an expert.

Your goal is to generate a well-structured query for use in retrieval and / or web-search related to the conversation.

First, analyze the full conversation.

Pay particular attention to the final question posed by the analyst.

Convert this final question into a well-structured web search query`

// QueryWriter turns an interview so far into one search query.
type QueryWriter struct {
	LLM    core.LLM
	Logger *log.Logger
}

func NewQueryWriter(model core.LLM, logger *log.Logger) *QueryWriter {
	if logger == nil {
		logger = log.New(log.Writer(), "[RETRIEVAL] ", log.LstdFlags)
	}
	return &QueryWriter{LLM: model, Logger: logger}
}

// Write never fails: when the model call does, the latest question is used verbatim.
func (w *QueryWriter) Write(ctx context.Context, messages []core.Message) string {
	var out struct {
		SearchQuery string `json:"search_query"`
	}
	err := w.LLM.CompleteStructured(ctx, core.Prompt{
		Task:     core.TaskResearch,
		System:   searchInstructions,
		Messages: messages,
	}, llm.SchemaSearchQuery, &out)
	if err == nil && strings.TrimSpace(out.SearchQuery) != "" {
		return strings.TrimSpace(out.SearchQuery)
	}
	fallback := lastQuestion(messages)
	if err != nil {
		w.Logger.Printf("search query generation failed, using last question: %v", err)
	}
	return fallback
}

func lastQuestion(messages []core.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if !messages[i].IsExpert() {
			return strings.TrimSpace(messages[i].Content)
		}
	}
	return ""
}
