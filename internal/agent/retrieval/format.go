package retrieval

import (
	"fmt"
	"strings"

	"github.com/mohammad-safakhou/podcaster/internal/agent/core"
)

const blockSeparator = "\n\n---\n\n"

// Formatter renders one adapter's passages as a single context block.
type Formatter func([]core.Passage) string

func join(passages []core.Passage, header func(core.Passage) string) string {
	docs := make([]string, 0, len(passages))
	for _, p := range passages {
		docs = append(docs, fmt.Sprintf("%s\n%s\n</Document>", header(p), p.Content))
	}
	return strings.Join(docs, blockSeparator)
}

func FormatWeb(passages []core.Passage) string {
	return join(passages, func(p core.Passage) string {
		return fmt.Sprintf(`<Document href="%s"/>`, p.Metadata["url"])
	})
}

func FormatEncyclopedia(passages []core.Passage) string {
	return join(passages, func(p core.Passage) string {
		return fmt.Sprintf(`<Document source="%s" page="%s"/>`, p.Metadata["source"], p.Metadata["page"])
	})
}

func FormatPapers(passages []core.Passage) string {
	return join(passages, func(p core.Passage) string {
		return fmt.Sprintf(`<Document title="%s" authors="%s" published="%s" url="%s"/>`,
			p.Metadata["title"], p.Metadata["authors"], p.Metadata["published"], p.Metadata["url"])
	})
}

func FormatVector(passages []core.Passage) string {
	return join(passages, func(p core.Passage) string {
		return fmt.Sprintf(`<Document source="%s" title="%s"/>`, p.Metadata["source"], p.Metadata["title"])
	})
}

// FormatterFor picks the block format for a known adapter name.
func FormatterFor(adapter string) Formatter {
	switch adapter {
	case "web":
		return FormatWeb
	case "encyclopedia":
		return FormatEncyclopedia
	case "papers":
		return FormatPapers
	default:
		return FormatVector
	}
}
