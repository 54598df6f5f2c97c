package helpers

import (
	"regexp"
	"strings"
)

var (
	citationMarker = regexp.MustCompile(`^\s*(\[\d+\]|\d+\.|[-*])\s*`)
	firstURL       = regexp.MustCompile(`https?://[^\s<>)\]]+`)
)

// SplitSourceLines returns the non-empty lines of a sources block.
func SplitSourceLines(block string) []string {
	var out []string
	for _, line := range strings.Split(block, "\n") {
		if l := strings.TrimSpace(line); l != "" {
			out = append(out, l)
		}
	}
	return out
}

// SourceKey identifies a citation line by its canonical URL, or by its
// normalized text when it carries no URL.
func SourceKey(line string) string {
	if u := firstURL.FindString(line); u != "" {
		if canonical, err := CanonicalURL(strings.TrimRight(u, ".,;")); err == nil {
			return canonical
		}
	}
	text := citationMarker.ReplaceAllString(line, "")
	return strings.ToLower(strings.Join(strings.Fields(text), " "))
}

// DedupeSources keeps the first occurrence of every source, preserving order.
func DedupeSources(lines []string) []string {
	seen := make(map[string]struct{}, len(lines))
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		key := SourceKey(line)
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, line)
	}
	return out
}
