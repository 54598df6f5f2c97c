package script

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/mohammad-safakhou/podcaster/internal/agent/core"
	"github.com/mohammad-safakhou/podcaster/internal/agent/llm"
)

var tracer = otel.Tracer("podcaster/internal/agent/script")

// Input is everything the writer needs for one script.
type Input struct {
	Title       string
	Instruction string
	Content     string
	Plan        core.OutlinePlan
	Host        core.Identity
	Guest       core.Identity
}

// Progress is called after each section is appended.
type Progress func(section core.OutlineSection, index, appended int)

type Writer struct {
	llm    core.LLM
	window int
	logger *log.Logger
	// OnSection is optional.
	OnSection Progress
}

// New builds a writer. window > 0 resends only the last window lines of the
// dialogue; zero resends all of it.
func New(llm core.LLM, window int, logger *log.Logger) *Writer {
	if logger == nil {
		logger = log.New(log.Writer(), "[SCRIPT] ", log.LstdFlags)
	}
	return &Writer{llm: llm, window: window, logger: logger}
}

type rawLine struct {
	Speaker string `json:"speaker"`
	Content string `json:"content"`
}

// Write walks the plan in order, appending each section's lines to one
// script. Earlier lines are never modified.
func (w *Writer) Write(ctx context.Context, in Input) (*core.Script, error) {
	ctx, span := tracer.Start(ctx, "script.write")
	defer span.End()
	span.SetAttributes(attribute.Int("sections", len(in.Plan.Sections)))

	planJSON, err := json.Marshal(in.Plan.Sections)
	if err != nil {
		return nil, err
	}
	title := in.Title
	if title == "" {
		title = in.Plan.Title
	}

	script := core.NewScript()
	for i, section := range in.Plan.Sections {
		start := time.Now()
		closing := section.IsClosing() || i == len(in.Plan.Sections)-1
		note := continuationNote
		if closing {
			note = closingNote
		}
		prompt := fmt.Sprintf(writeTemplate,
			title, in.Instruction, in.Content, string(planJSON),
			renderDialogue(script.Tail(w.window)), section.ID,
			in.Host.Name, in.Host.Background, in.Guest.Name, in.Guest.Background,
			note)

		var out struct {
			Dialogue []rawLine `json:"dialogue"`
		}
		if err := w.llm.CompleteStructured(ctx, core.UserPrompt(core.TaskChatting, prompt), llm.SchemaDialogue, &out); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("section %s: %w", section.ID, err)
		}
		lines := assignSpeakers(out.Dialogue, in.Host, in.Guest)
		script.Append(lines...)
		w.logger.Printf("section %d/%d %s: %d lines in %s", i+1, len(in.Plan.Sections), section.ID, len(lines), time.Since(start).Round(time.Millisecond))
		if w.OnSection != nil {
			w.OnSection(section, i, len(lines))
		}
	}
	return script, nil
}

func renderDialogue(lines []core.DialogueLine) string {
	if len(lines) == 0 {
		return emptyDialogue
	}
	var b strings.Builder
	for _, l := range lines {
		fmt.Fprintf(&b, "%s: %s\n", l.Name, l.Text)
	}
	return b.String()
}

// assignSpeakers fixes every line's role once: an exact name match wins,
// then a name containing one identity's name; an unknown speaker opening a
// batch is the host, and later unknown speakers alternate.
func assignSpeakers(raw []rawLine, host, guest core.Identity) []core.DialogueLine {
	out := make([]core.DialogueLine, 0, len(raw))
	for i, r := range raw {
		name := strings.TrimSpace(r.Speaker)
		var speaker core.Speaker
		switch {
		case name == host.Name:
			speaker = core.SpeakerHost
		case name == guest.Name:
			speaker = core.SpeakerGuest
		case host.Name != "" && strings.Contains(name, host.Name):
			speaker = core.SpeakerHost
		case guest.Name != "" && strings.Contains(name, guest.Name):
			speaker = core.SpeakerGuest
		case i == 0:
			speaker = core.SpeakerHost
		default:
			speaker = core.SpeakerGuest
			if out[i-1].Speaker == core.SpeakerGuest {
				speaker = core.SpeakerHost
			}
		}
		canonical := host.Name
		if speaker == core.SpeakerGuest {
			canonical = guest.Name
		}
		out = append(out, core.DialogueLine{Speaker: speaker, Name: canonical, Text: r.Content})
	}
	return out
}
