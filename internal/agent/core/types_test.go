package core

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestAnalystPersona(t *testing.T) {
	a := Analyst{Name: "Dr. Emily Carter", Role: "Technology Analyst", Affiliation: "Tech Innovators Inc.", Description: "Evaluates emerging tech."}
	want := "Name: Dr. Emily Carter\nRole: Technology Analyst\nAffiliation: Tech Innovators Inc.\nDescription: Evaluates emerging tech.\n"
	if got := a.Persona(); got != want {
		t.Fatalf("persona mismatch:\n%q\n%q", got, want)
	}
}

func TestTranscriptPrefixesRoles(t *testing.T) {
	msgs := []Message{
		HumanMessage("So you said you were writing an article on AI?"),
		AIMessage("Hi, I'm Emily. What changed in 2024?"),
		ExpertMessage("Quite a lot [1]."),
	}
	got := Transcript(msgs)
	want := "Human: So you said you were writing an article on AI?\nAI: Hi, I'm Emily. What changed in 2024?\nAI: Quite a lot [1]."
	if got != want {
		t.Fatalf("unexpected transcript:\n%s", got)
	}
	if msgs[1].IsExpert() || !msgs[2].IsExpert() {
		t.Fatalf("expert tagging mismatch")
	}
}

func TestSpeakerTextRoundTrip(t *testing.T) {
	line := DialogueLine{Speaker: SpeakerGuest, Name: "來賓", Text: "嗯，這個問題很好。"}
	b, err := json.Marshal(line)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(b), `"role":"guest"`) {
		t.Fatalf("expected guest role in %s", b)
	}
	var back DialogueLine
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back != line {
		t.Fatalf("round trip mismatch: %+v", back)
	}

	var s Speaker
	if err := s.UnmarshalText([]byte("narrator")); err == nil {
		t.Fatalf("expected unknown speaker to fail")
	}
	if _, err := Speaker(7).MarshalText(); err == nil {
		t.Fatalf("expected invalid speaker to fail")
	}
}

func TestScriptAppendOnly(t *testing.T) {
	s := NewScript(DialogueLine{Speaker: SpeakerHost, Text: "a"})
	snapshot := s.Lines()
	snapshot[0].Text = "mutated"
	if s.Lines()[0].Text != "a" {
		t.Fatalf("Lines must return a copy")
	}

	s.Append(DialogueLine{Speaker: SpeakerGuest, Text: "b"}, DialogueLine{Speaker: SpeakerHost, Text: "c"})
	if s.Len() != 3 {
		t.Fatalf("expected 3 lines, got %d", s.Len())
	}
	tail := s.Tail(2)
	if len(tail) != 2 || tail[0].Text != "b" || tail[1].Text != "c" {
		t.Fatalf("unexpected tail: %+v", tail)
	}
	if len(s.Tail(0)) != 3 || len(s.Tail(10)) != 3 {
		t.Fatalf("non-positive or oversized window must return every line")
	}
}

func TestOutlineSectionClosing(t *testing.T) {
	if !(OutlineSection{ID: " 結尾段 "}).IsClosing() {
		t.Fatalf("expected closing section")
	}
	if (OutlineSection{ID: "第一段"}).IsClosing() {
		t.Fatalf("first section is not closing")
	}
}

func TestShortfall(t *testing.T) {
	if !(Shortfall{Requested: 3, Got: 2}).Short() {
		t.Fatalf("expected shortfall")
	}
	if (Shortfall{Requested: 3, Got: 3}).Short() {
		t.Fatalf("no shortfall expected")
	}
}
