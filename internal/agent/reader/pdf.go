package reader

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/mohammad-safakhou/podcaster/internal/agent/core"
)

var errNoText = errors.New("no text could be extracted")

// PDFReader renders each page of a local PDF as a markdown section.
type PDFReader struct{}

func (PDFReader) Read(ctx context.Context, path string) (content string, err error) {
	if strings.TrimSpace(path) == "" {
		return "", &core.SourceReadError{Source: path, Err: errors.New("empty pdf path")}
	}
	if _, err := os.Stat(path); err != nil {
		return "", &core.SourceReadError{Source: path, Err: err}
	}
	// the parser panics on some malformed xref tables
	defer func() {
		if r := recover(); r != nil {
			err = &core.SourceReadError{Source: path, Err: fmt.Errorf("malformed pdf: %v", r)}
		}
	}()

	f, r, err := pdf.Open(path)
	if err != nil {
		return "", &core.SourceReadError{Source: path, Err: err}
	}
	defer f.Close()

	var b strings.Builder
	for i := 1; i <= r.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return "", &core.SourceReadError{Source: path, Err: fmt.Errorf("page %d: %w", i, err)}
		}
		writePage(&b, i, text)
	}
	if strings.TrimSpace(b.String()) == "" {
		return "", &core.SourceReadError{Source: path, Err: errNoText}
	}
	return b.String(), nil
}

func writePage(b *strings.Builder, n int, text string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	fmt.Fprintf(b, "\n## Page %d\n", n)
	for _, para := range strings.Split(text, "\n\n") {
		if p := strings.TrimSpace(para); p != "" {
			b.WriteString(p)
			b.WriteString("\n\n")
		}
	}
}
