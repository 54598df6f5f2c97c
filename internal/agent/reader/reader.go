package reader

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/mohammad-safakhou/podcaster/internal/agent/core"
)

// TextReader passes free text through unchanged.
type TextReader struct{}

func (TextReader) Read(ctx context.Context, source string) (string, error) {
	if strings.TrimSpace(source) == "" {
		return "", &core.SourceReadError{Source: "prompt", Err: errors.New("empty content")}
	}
	return source, nil
}

// HTTPFetcher fetches HTML without a browser.
type HTTPFetcher struct {
	HTTP *core.HTTPClient
}

func (f HTTPFetcher) HTML(ctx context.Context, url string) (string, error) {
	body, err := f.HTTP.Do(ctx, http.MethodGet, url, map[string]string{"User-Agent": "podcaster/1.0"}, nil)
	if err != nil {
		return "", err
	}
	return string(body), nil
}
