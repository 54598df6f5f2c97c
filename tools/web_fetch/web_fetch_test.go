package web_fetch

import "testing"

func TestNewWebFetcher(t *testing.T) {
	f, err := NewWebFetcher(ChromedpFetcherType, 0, 0)
	if err != nil || f == nil {
		t.Fatalf("expected chromedp fetcher, got %v", err)
	}
	if _, err := NewWebFetcher("playwright", 0, 0); err == nil {
		t.Fatalf("expected unsupported fetcher error")
	}
}
