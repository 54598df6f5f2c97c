package web_fetch

import (
	"context"
	"fmt"
	"time"

	"github.com/mohammad-safakhou/podcaster/tools/web_fetch/chromedp"
	"github.com/mohammad-safakhou/podcaster/tools/web_fetch/models"
)

const (
	DefaultTimeout  = 15 * time.Second
	MaxCharsDefault = 20000
)

// WebFetcher renders pages for the web search full-text mode and for arXiv
// papers whose HTML needs a browser.
type WebFetcher interface {
	Exec(ctx context.Context, url string) (models.Result, error)
	HTML(ctx context.Context, url string) (string, error)
}

type FetcherType string

const ChromedpFetcherType FetcherType = "chromedp"

// NewWebFetcher returns the fetcher for kind. A zero timeout or maxChars
// takes the package default.
func NewWebFetcher(kind FetcherType, timeout time.Duration, maxChars int) (WebFetcher, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if maxChars <= 0 {
		maxChars = MaxCharsDefault
	}
	if kind != ChromedpFetcherType {
		return nil, fmt.Errorf("unsupported fetcher type %q", kind)
	}
	return &chromedp.Fetch{Timeout: timeout, MaxChars: maxChars}, nil
}
