package tts

import (
	"fmt"
	"strings"
)

// Voice describes one speech voice offered by the backend.
type Voice struct {
	ID          string `json:"id"`
	Description string `json:"description"`
}

// Catalogue lists the OpenAI speech voices.
var Catalogue = []Voice{
	{ID: "alloy", Description: "neutral, balanced"},
	{ID: "ash", Description: "clear, assertive"},
	{ID: "ballad", Description: "soft, melodic"},
	{ID: "coral", Description: "warm, friendly"},
	{ID: "echo", Description: "calm, resonant"},
	{ID: "fable", Description: "expressive storyteller"},
	{ID: "nova", Description: "bright, energetic"},
	{ID: "onyx", Description: "deep, authoritative"},
	{ID: "sage", Description: "measured, thoughtful"},
	{ID: "shimmer", Description: "light, upbeat"},
	{ID: "verse", Description: "versatile, conversational"},
}

// Voices assigns one voice per speaker role.
type Voices struct {
	Host  string `json:"host"`
	Guest string `json:"guest"`
}

// KnownVoice reports whether id is in the catalogue.
func KnownVoice(id string) bool {
	for _, v := range Catalogue {
		if v.ID == id {
			return true
		}
	}
	return false
}

// Merge fills empty roles from defaults and checks both voices exist.
func (v Voices) Merge(defaults Voices) (Voices, error) {
	v.Host = strings.ToLower(strings.TrimSpace(v.Host))
	v.Guest = strings.ToLower(strings.TrimSpace(v.Guest))
	if v.Host == "" {
		v.Host = defaults.Host
	}
	if v.Guest == "" {
		v.Guest = defaults.Guest
	}
	for _, id := range []string{v.Host, v.Guest} {
		if !KnownVoice(id) {
			return v, fmt.Errorf("unknown voice %q", id)
		}
	}
	return v, nil
}
