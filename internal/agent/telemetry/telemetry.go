package telemetry

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"

	"github.com/mohammad-safakhou/podcaster/config"
)

var (
	metricsOnce      sync.Once
	llmCalls         otelmetric.Int64Counter
	llmTokens        otelmetric.Int64Counter
	llmLatency       otelmetric.Float64Histogram
	retrievalCalls   otelmetric.Int64Counter
	retrievalLatency otelmetric.Float64Histogram
	stageDuration    otelmetric.Float64Histogram
)

func initMetrics() {
	meter := otel.Meter("podcaster/internal/agent/telemetry")
	var err error
	llmCalls, err = meter.Int64Counter("podcaster_llm_calls_total",
		otelmetric.WithDescription("LLM completions by task, model and outcome"))
	if err != nil {
		log.Printf("telemetry metrics init: podcaster_llm_calls_total: %v", err)
	}
	llmTokens, err = meter.Int64Counter("podcaster_llm_tokens_total",
		otelmetric.WithDescription("Tokens consumed by LLM completions"))
	if err != nil {
		log.Printf("telemetry metrics init: podcaster_llm_tokens_total: %v", err)
	}
	llmLatency, err = meter.Float64Histogram("podcaster_llm_latency_seconds",
		otelmetric.WithDescription("LLM completion latency"), otelmetric.WithUnit("s"))
	if err != nil {
		log.Printf("telemetry metrics init: podcaster_llm_latency_seconds: %v", err)
	}
	retrievalCalls, err = meter.Int64Counter("podcaster_retrieval_calls_total",
		otelmetric.WithDescription("Retrieval adapter invocations by adapter and outcome"))
	if err != nil {
		log.Printf("telemetry metrics init: podcaster_retrieval_calls_total: %v", err)
	}
	retrievalLatency, err = meter.Float64Histogram("podcaster_retrieval_latency_seconds",
		otelmetric.WithDescription("Retrieval adapter latency"), otelmetric.WithUnit("s"))
	if err != nil {
		log.Printf("telemetry metrics init: podcaster_retrieval_latency_seconds: %v", err)
	}
	stageDuration, err = meter.Float64Histogram("podcaster_stage_duration_seconds",
		otelmetric.WithDescription("Pipeline stage duration"), otelmetric.WithUnit("s"))
	if err != nil {
		log.Printf("telemetry metrics init: podcaster_stage_duration_seconds: %v", err)
	}
}

// Telemetry tracks LLM usage, retrieval health and stage timing.
type Telemetry struct {
	config      config.TelemetryConfig
	logger      *log.Logger
	mu          sync.RWMutex
	costTracker *CostTracker
	sources     map[string]*SourceStats
}

// CostTracker tracks costs across models and tasks
type CostTracker struct {
	TaskCosts   map[string]float64 // task -> cost
	ModelCosts  map[string]float64 // model -> cost
	TotalCost   float64
	TotalTokens int64
}

// SourceStats aggregates retrieval adapter outcomes.
type SourceStats struct {
	Requests int64
	Failures int64
	Results  int64
}

// LLMEvent represents one completion
type LLMEvent struct {
	Task         string
	Provider     string
	Model        string
	Duration     time.Duration
	InputTokens  int64
	OutputTokens int64
	Cost         float64
	Success      bool
}

// SourceEvent represents a retrieval adapter invocation
type SourceEvent struct {
	Source   string
	Duration time.Duration
	Success  bool
	Results  int
}

// StageEvent represents a completed pipeline stage
type StageEvent struct {
	Pipeline string
	Stage    string
	Duration time.Duration
	Success  bool
}

// NewTelemetry creates a new telemetry instance
func NewTelemetry(cfg config.TelemetryConfig) *Telemetry {
	metricsOnce.Do(initMetrics)
	return &Telemetry{
		config: cfg,
		logger: log.New(log.Writer(), "[TELEMETRY] ", log.LstdFlags),
		costTracker: &CostTracker{
			TaskCosts:  make(map[string]float64),
			ModelCosts: make(map[string]float64),
		},
		sources: make(map[string]*SourceStats),
	}
}

// RecordLLMEvent records token usage and cost for one completion
func (t *Telemetry) RecordLLMEvent(ctx context.Context, event LLMEvent) {
	if t == nil {
		return
	}
	attrs := otelmetric.WithAttributes(
		attribute.String("task", event.Task),
		attribute.String("model", event.Provider+"/"+event.Model),
		attribute.Bool("success", event.Success),
	)
	if llmCalls != nil {
		llmCalls.Add(ctx, 1, attrs)
	}
	if llmTokens != nil {
		llmTokens.Add(ctx, event.InputTokens+event.OutputTokens, attrs)
	}
	if llmLatency != nil {
		llmLatency.Record(ctx, event.Duration.Seconds(), attrs)
	}
	if !t.config.CostTracking {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.costTracker.TotalCost += event.Cost
	t.costTracker.TotalTokens += event.InputTokens + event.OutputTokens
	t.costTracker.TaskCosts[event.Task] += event.Cost
	t.costTracker.ModelCosts[event.Model] += event.Cost
}

// RecordSourceEvent records a retrieval adapter invocation
func (t *Telemetry) RecordSourceEvent(ctx context.Context, event SourceEvent) {
	if t == nil {
		return
	}
	attrs := otelmetric.WithAttributes(
		attribute.String("adapter", event.Source),
		attribute.Bool("success", event.Success),
	)
	if retrievalCalls != nil {
		retrievalCalls.Add(ctx, 1, attrs)
	}
	if retrievalLatency != nil {
		retrievalLatency.Record(ctx, event.Duration.Seconds(), attrs)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.sources[event.Source]
	if !ok {
		st = &SourceStats{}
		t.sources[event.Source] = st
	}
	st.Requests++
	st.Results += int64(event.Results)
	if !event.Success {
		st.Failures++
	}
}

// RecordStageEvent records the duration of a pipeline stage
func (t *Telemetry) RecordStageEvent(ctx context.Context, event StageEvent) {
	if t == nil {
		return
	}
	if stageDuration != nil {
		stageDuration.Record(ctx, event.Duration.Seconds(), otelmetric.WithAttributes(
			attribute.String("pipeline", event.Pipeline),
			attribute.String("stage", event.Stage),
			attribute.Bool("success", event.Success),
		))
	}
	if t.config.Enabled {
		t.logger.Printf("Stage Event: Pipeline=%s, Stage=%s, Success=%t, Duration=%v",
			event.Pipeline, event.Stage, event.Success, event.Duration)
	}
}

// CostSummary provides a summary of costs
type CostSummary struct {
	TotalCost   float64
	TotalTokens int64
	TaskCosts   map[string]float64
	ModelCosts  map[string]float64
}

// GetCostSummary returns current cost summary
func (t *Telemetry) GetCostSummary() CostSummary {
	t.mu.RLock()
	defer t.mu.RUnlock()

	summary := CostSummary{
		TotalCost:   t.costTracker.TotalCost,
		TotalTokens: t.costTracker.TotalTokens,
		TaskCosts:   make(map[string]float64, len(t.costTracker.TaskCosts)),
		ModelCosts:  make(map[string]float64, len(t.costTracker.ModelCosts)),
	}
	for k, v := range t.costTracker.TaskCosts {
		summary.TaskCosts[k] = v
	}
	for k, v := range t.costTracker.ModelCosts {
		summary.ModelCosts[k] = v
	}
	return summary
}

// SourceSnapshot returns a copy of per-adapter retrieval stats.
func (t *Telemetry) SourceSnapshot() map[string]SourceStats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]SourceStats, len(t.sources))
	for k, v := range t.sources {
		out[k] = *v
	}
	return out
}

// CalculateCost calculates the cost for a given number of tokens
func CalculateCost(inputTokens, outputTokens int64, costPer1KInput, costPer1KOutput float64) float64 {
	inputCost := float64(inputTokens) / 1000.0 * costPer1KInput
	outputCost := float64(outputTokens) / 1000.0 * costPer1KOutput
	return inputCost + outputCost
}

// Report renders a cost and retrieval summary.
func (t *Telemetry) Report() string {
	costs := t.GetCostSummary()
	sources := t.SourceSnapshot()

	var b strings.Builder
	fmt.Fprintf(&b, "Total Cost: $%.4f\nTotal Tokens: %d\n", costs.TotalCost, costs.TotalTokens)
	b.WriteString("\nTask Costs:\n")
	for _, task := range sortedKeys(costs.TaskCosts) {
		fmt.Fprintf(&b, "  %s: $%.4f\n", task, costs.TaskCosts[task])
	}
	b.WriteString("\nSource Performance:\n")
	names := make([]string, 0, len(sources))
	for name := range sources {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		st := sources[name]
		fmt.Fprintf(&b, "  %s: %d requests, %d failures, %d results\n", name, st.Requests, st.Failures, st.Results)
	}
	return b.String()
}

// Shutdown logs the final cost report
func (t *Telemetry) Shutdown() {
	if t == nil || !t.config.Enabled {
		return
	}
	t.logger.Println("Shutting down telemetry system...")
	t.logger.Printf("Final Report:\n%s", t.Report())
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
