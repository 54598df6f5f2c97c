package outline

import (
	"context"
	"fmt"
	"log"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/mohammad-safakhou/podcaster/internal/agent/core"
	"github.com/mohammad-safakhou/podcaster/internal/agent/llm"
)

var tracer = otel.Tracer("podcaster/internal/agent/outline")

const planTemplate = `你是一位優秀的Podcast腳本家，總是能夠針對客戶的要求撰寫出輕鬆有趣且引人入勝的Podcast腳本，
而現在你接到了以下的Podcast腳本撰寫案件，但在正式開始撰寫Podcast腳本前，你必須先撰寫一份詳細的Podcast腳本大綱供客戶參考。

撰寫原則:
- 請你依據客戶要求以及客戶所提供的背景資料撰寫Podcast腳本各個段落的摘要。
- 風格以輕鬆有趣，並且能夠吸引聽眾的注意力為主，
- 請確保每個段落清楚明確。將內容分成必要的段落數量，每個段落專注於一個獨特的主題面向。
- 確保所有段落涵蓋整個Podcast腳本的客戶需求以及客戶所提供的背景資料。除非特別要求，否則避免開放式的結論或修辭性的引導。
- 至少規劃10個段落，但若客戶對腳本長度有特別要求，則依照客戶要求規劃6個段落(短)至30個段落(長)。
- 段落編號依序為第一段、第二段、第三段……，最後一個段落的編號必須是「結尾段」。

客戶要求:
務必以客戶要求為主撰寫腳本，同時也要嚴格遵守上述的撰寫規範。
%s

背景資料:
請利用此處提供的背景資料，撰寫Podcast腳本各個段落的摘要。
%s

Podcast參與者的名稱與背景資料(只有這兩位參與者，沒有別的來賓):
主持人%s: %s
嘉賓%s: %s`

// Range is the section count the prompt asks for.
type Range struct {
	Min int
	Max int
}

var (
	shortHints = []string{"短", "short", "brief"}
	longHints  = []string{"長", "long", "detailed"}
)

// TargetSections reads a length hint from the instruction.
func TargetSections(instruction string) Range {
	lower := strings.ToLower(instruction)
	for _, h := range shortHints {
		if strings.Contains(lower, h) {
			return Range{Min: 6, Max: 10}
		}
	}
	for _, h := range longHints {
		if strings.Contains(lower, h) {
			return Range{Min: 20, Max: 30}
		}
	}
	return Range{Min: 10, Max: 30}
}

// Input is everything the planner sees.
type Input struct {
	Instruction string
	Content     string
	Host        core.Identity
	Guest       core.Identity
}

type Planner struct {
	llm    core.LLM
	logger *log.Logger
}

func New(llm core.LLM, logger *log.Logger) *Planner {
	if logger == nil {
		logger = log.New(log.Writer(), "[OUTLINE] ", log.LstdFlags)
	}
	return &Planner{llm: llm, logger: logger}
}

// Plan issues one structured call. The section count is a prompt-level
// target: fewer sections are reported as a shortfall, never rejected.
func (p *Planner) Plan(ctx context.Context, in Input) (core.OutlinePlan, core.Shortfall, error) {
	ctx, span := tracer.Start(ctx, "outline.plan")
	defer span.End()

	prompt := fmt.Sprintf(planTemplate, in.Instruction, in.Content,
		in.Host.Name, in.Host.Background, in.Guest.Name, in.Guest.Background)
	var plan core.OutlinePlan
	if err := p.llm.CompleteStructured(ctx, core.UserPrompt(core.TaskPlanning, prompt), llm.SchemaOutline, &plan); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return core.OutlinePlan{}, core.Shortfall{}, err
	}

	target := TargetSections(in.Instruction)
	shortfall := core.Shortfall{Requested: target.Min, Got: len(plan.Sections)}
	if shortfall.Short() {
		p.logger.Printf("plan %q has %d sections, asked for at least %d", plan.Title, shortfall.Got, shortfall.Requested)
	}
	span.SetAttributes(attribute.Int("sections", len(plan.Sections)))
	return plan, shortfall, nil
}
