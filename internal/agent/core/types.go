package core

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Analyst is a simulated interviewer generated for a research topic.
type Analyst struct {
	Name        string `json:"name"`
	Role        string `json:"role"`
	Affiliation string `json:"affiliation"`
	Description string `json:"description"`
}

// Persona renders the analyst as a system prompt fragment.
func (a Analyst) Persona() string {
	return fmt.Sprintf("Name: %s\nRole: %s\nAffiliation: %s\nDescription: %s\n", a.Name, a.Role, a.Affiliation, a.Description)
}

// Role identifies the author of an interview message.
type Role string

const (
	RoleHuman Role = "human"
	RoleAI    Role = "ai"
)

// ExpertName tags answer messages. Routing counts only messages carrying it.
const ExpertName = "expert"

// Message is one turn of an interview conversation.
type Message struct {
	Role    Role   `json:"role"`
	Name    string `json:"name,omitempty"`
	Content string `json:"content"`
}

func HumanMessage(content string) Message { return Message{Role: RoleHuman, Content: content} }

func AIMessage(content string) Message { return Message{Role: RoleAI, Content: content} }

func ExpertMessage(content string) Message {
	return Message{Role: RoleAI, Name: ExpertName, Content: content}
}

// IsExpert reports whether the message is an expert answer.
func (m Message) IsExpert() bool {
	return m.Role == RoleAI && m.Name == ExpertName
}

// Transcript renders messages as a plain "Human:/AI:" buffer.
func Transcript(messages []Message) string {
	lines := make([]string, 0, len(messages))
	for _, m := range messages {
		prefix := "Human"
		if m.Role == RoleAI {
			prefix = "AI"
		}
		lines = append(lines, prefix+": "+m.Content)
	}
	return strings.Join(lines, "\n")
}

// Section is one analyst's finalized contribution to a research report.
type Section struct {
	Analyst Analyst `json:"analyst"`
	Body    string  `json:"body"`
}

// ClosingSectionID names the final outline section.
const ClosingSectionID = "結尾段"

// OutlineSection is one planned segment of the podcast.
type OutlineSection struct {
	ID        string `json:"subplan_num"`
	Topic     string `json:"main_topic"`
	KeyPoints string `json:"key_points"`
}

// IsClosing reports whether this is the terminal section of a plan.
func (s OutlineSection) IsClosing() bool {
	return strings.TrimSpace(s.ID) == ClosingSectionID
}

// OutlinePlan is the ordered podcast outline.
type OutlinePlan struct {
	Title    string           `json:"title"`
	Sections []OutlineSection `json:"plan"`
}

// Speaker is one of the two fixed podcast roles.
type Speaker int

const (
	SpeakerHost Speaker = iota
	SpeakerGuest
)

func (s Speaker) String() string {
	switch s {
	case SpeakerHost:
		return "host"
	case SpeakerGuest:
		return "guest"
	default:
		return fmt.Sprintf("speaker(%d)", int(s))
	}
}

func (s Speaker) MarshalText() ([]byte, error) {
	switch s {
	case SpeakerHost, SpeakerGuest:
		return []byte(s.String()), nil
	default:
		return nil, fmt.Errorf("invalid speaker %d", int(s))
	}
}

func (s *Speaker) UnmarshalText(b []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(b))) {
	case "host":
		*s = SpeakerHost
	case "guest":
		*s = SpeakerGuest
	default:
		return fmt.Errorf("invalid speaker %q", string(b))
	}
	return nil
}

// Identity describes a podcast participant.
type Identity struct {
	Name       string `json:"name"`
	Background string `json:"background"`
}

// DialogueLine is one spoken line of the script.
type DialogueLine struct {
	Speaker Speaker `json:"role"`
	Name    string  `json:"speaker"`
	Text    string  `json:"content"`
}

// Script is an append-only dialogue. Lines are never edited once appended.
type Script struct {
	mu    sync.RWMutex
	lines []DialogueLine
}

func NewScript(lines ...DialogueLine) *Script {
	s := &Script{}
	s.Append(lines...)
	return s
}

func (s *Script) Append(lines ...DialogueLine) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = append(s.lines, lines...)
}

// Lines returns a copy of the dialogue.
func (s *Script) Lines() []DialogueLine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]DialogueLine, len(s.lines))
	copy(out, s.lines)
	return out
}

// Tail returns a copy of the last n lines; n <= 0 returns every line.
func (s *Script) Tail(n int) []DialogueLine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	start := 0
	if n > 0 && n < len(s.lines) {
		start = len(s.lines) - n
	}
	out := make([]DialogueLine, len(s.lines)-start)
	copy(out, s.lines[start:])
	return out
}

func (s *Script) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.lines)
}

func (s *Script) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Lines())
}

// SourceKind names the entry pipeline that produced a script.
type SourceKind string

const (
	SourcePrompt SourceKind = "prompt"
	SourcePDF    SourceKind = "pdf"
	SourceArxiv  SourceKind = "arxiv"
)

// ScriptResult is the output of every top-level pipeline.
type ScriptResult struct {
	ID        string         `json:"id"`
	Source    SourceKind     `json:"source"`
	Reference string         `json:"reference"`
	Title     string         `json:"title"`
	Dialogue  []DialogueLine `json:"dialogue"`
	Host      Identity       `json:"host"`
	Guest     Identity       `json:"guest"`
	Outline   OutlinePlan    `json:"outline"`
	Report    string         `json:"report,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Shortfall records a generator returning fewer items than requested.
// It is informational, not an error.
type Shortfall struct {
	Requested int
	Got       int
}

func (s Shortfall) Short() bool { return s.Got < s.Requested }
