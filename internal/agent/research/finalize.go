package research

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/mohammad-safakhou/podcaster/internal/helpers"
)

const (
	insightsHeader = "## Insights"
	sourcesHeader  = "## Sources"
)

var (
	// only a line that is exactly the header; memo-level "### Sources" must not match
	sourcesLine    = regexp.MustCompile(`(?m)^## Sources[ \t]*$`)
	sourceNumber   = regexp.MustCompile(`^\s*\[(\d+)\]`)
	inlineCitation = regexp.MustCompile(`\[(\d+)\]`)
	sourceMarker   = regexp.MustCompile(`^\s*(\[\d+\]|\d+\.|[-*])\s*`)
)

type reportPart struct {
	text    string
	sources []string
}

// Finalize assembles introduction, body and conclusion in that order and
// appends one deduplicated, sequentially numbered source list. Inline [n]
// citations in each part are rewritten to the merged numbering.
func Finalize(introduction, content, conclusion string) string {
	content = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(content), insightsHeader))
	intro := splitPart(introduction)
	body := splitPart(content)
	concl := splitPart(conclusion)

	var merged []string
	index := map[string]int{}
	// body sources lead the list
	for _, p := range []*reportPart{body, intro, concl} {
		renumber := map[string]int{}
		for _, line := range p.sources {
			key := helpers.SourceKey(line)
			if key == "" {
				continue
			}
			n, ok := index[key]
			if !ok {
				merged = append(merged, sourceMarker.ReplaceAllString(line, ""))
				n = len(merged)
				index[key] = n
			}
			if m := sourceNumber.FindStringSubmatch(line); m != nil {
				if _, seen := renumber[m[1]]; !seen {
					renumber[m[1]] = n
				}
			}
		}
		p.text = inlineCitation.ReplaceAllStringFunc(p.text, func(c string) string {
			if n, ok := renumber[c[1:len(c)-1]]; ok {
				return "[" + strconv.Itoa(n) + "]"
			}
			return c
		})
	}

	var b strings.Builder
	b.WriteString(intro.text)
	b.WriteString("\n\n---\n\n")
	b.WriteString(body.text)
	b.WriteString("\n\n---\n\n")
	b.WriteString(concl.text)
	if len(merged) > 0 {
		b.WriteString("\n\n" + sourcesHeader + "\n")
		for i, line := range merged {
			if i > 0 {
				b.WriteByte('\n')
			}
			fmt.Fprintf(&b, "[%d] %s", i+1, line)
		}
	}
	return b.String()
}

func splitPart(text string) *reportPart {
	body, sources := splitSources(text)
	return &reportPart{text: body, sources: sources}
}

// splitSources cuts the trailing "## Sources" block off text. Only the last
// header line counts.
func splitSources(text string) (string, []string) {
	text = strings.TrimSpace(text)
	locs := sourcesLine.FindAllStringIndex(text, -1)
	if len(locs) == 0 {
		return text, nil
	}
	last := locs[len(locs)-1]
	return strings.TrimSpace(text[:last[0]]), helpers.SplitSourceLines(text[last[1]:])
}
