package web_search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mohammad-safakhou/podcaster/internal/agent/core"
	fetchmodels "github.com/mohammad-safakhou/podcaster/tools/web_fetch/models"
	"github.com/mohammad-safakhou/podcaster/tools/web_search/brave"
	"github.com/mohammad-safakhou/podcaster/tools/web_search/models"
	"github.com/mohammad-safakhou/podcaster/tools/web_search/serper"
	"github.com/mohammad-safakhou/podcaster/tools/web_search/tavily"
)

func TestTavilyDiscover(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["query"] != "llama 3 taiwan" || body["api_key"] != "tv-key" {
			t.Errorf("unexpected body: %v", body)
		}
		fmt.Fprint(w, `{"results":[{"title":"A","url":"https://a","content":"alpha"},{"title":"B","url":"https://b","content":"beta"}]}`)
	}))
	defer srv.Close()

	s := tavily.Search{APIKey: "tv-key", Endpoint: srv.URL, HTTP: core.NewHTTPClient(time.Second, 0, 0)}
	res, err := s.Discover(context.Background(), "llama 3 taiwan", 1)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(res) != 1 || res[0].Snippet != "alpha" {
		t.Fatalf("unexpected results: %+v", res)
	}
}

func TestBraveDiscover(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Subscription-Token") != "bk" || r.URL.Query().Get("q") != "a b" {
			t.Errorf("unexpected request %s", r.URL)
		}
		fmt.Fprint(w, `{"web":{"results":[{"title":"T","url":"https://t","description":"d"}]}}`)
	}))
	defer srv.Close()

	s := brave.Search{ApiKey: "bk", Endpoint: srv.URL, HTTP: core.NewHTTPClient(time.Second, 0, 0)}
	res, err := s.Discover(context.Background(), "a b", 5)
	if err != nil || len(res) != 1 || res[0].URL != "https://t" {
		t.Fatalf("unexpected: %+v %v", res, err)
	}
}

func TestSerperDiscover(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-API-KEY") != "sk" {
			t.Errorf("missing api key")
		}
		fmt.Fprint(w, `{"organic":[{"title":"T","link":"https://t","snippet":"s"}]}`)
	}))
	defer srv.Close()

	s := serper.Search{ApiKey: "sk", Endpoint: srv.URL, HTTP: core.NewHTTPClient(time.Second, 0, 0)}
	res, err := s.Discover(context.Background(), "q", 5)
	if err != nil || len(res) != 1 || res[0].Snippet != "s" {
		t.Fatalf("unexpected: %+v %v", res, err)
	}
}

type stubSearcher struct {
	results []models.Result
	err     error
}

func (s stubSearcher) Discover(ctx context.Context, q string, k int) ([]models.Result, error) {
	return s.results, s.err
}

type stubFetcher map[string]fetchmodels.Result

func (f stubFetcher) Exec(ctx context.Context, url string) (fetchmodels.Result, error) {
	r, ok := f[url]
	if !ok {
		return fetchmodels.Result{URL: url, Status: 599}, nil
	}
	return r, nil
}

func TestRetrieverWrapsErrors(t *testing.T) {
	r := &Retriever{Searcher: stubSearcher{err: errors.New("boom")}}
	_, err := r.Search(context.Background(), "q", 3)
	var re *core.RetrievalError
	if !errors.As(err, &re) || re.Adapter != "web" {
		t.Fatalf("expected RetrievalError, got %v", err)
	}
}

func TestRetrieverFullText(t *testing.T) {
	r := &Retriever{
		Searcher: stubSearcher{results: []models.Result{
			{Title: "A", URL: "https://a", Snippet: "snippet a"},
			{Title: "B", URL: "https://b", Snippet: "snippet b"},
		}},
		Fetcher:  stubFetcher{"https://a": {Status: 200, Text: "全文內容 full text"}},
		MaxChars: 4,
	}
	got, err := r.Search(context.Background(), "q", 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if got[0].Content != "全文內容" {
		t.Fatalf("expected truncated full text, got %q", got[0].Content)
	}
	if got[1].Content != "snippet b" {
		t.Fatalf("expected snippet fallback, got %q", got[1].Content)
	}
	if got[0].Metadata["url"] != "https://a" {
		t.Fatalf("missing url metadata")
	}
}

func TestNewWebSearcherUnsupported(t *testing.T) {
	if _, err := NewWebSearcher("bing", "k", time.Second); !errors.Is(err, ErrUnsupportedProvider) {
		t.Fatalf("expected unsupported provider error, got %v", err)
	}
}

func TestRetrieverCleansAndDedupesHits(t *testing.T) {
	r := &Retriever{Searcher: stubSearcher{results: []models.Result{
		{Title: "<strong>Llama 3</strong> in Taiwan", URL: "https://www.example.com/llama?utm_source=x", Snippet: "Taiwan &amp; <em>Llama</em>"},
		{Title: "dup", URL: "https://example.com/llama#top", Snippet: "again"},
		{Title: "Other", URL: "https://example.org/", Snippet: "other"},
	}}}
	got, err := r.Search(context.Background(), "q", 3)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected duplicate hit to be dropped, got %+v", got)
	}
	if got[0].Content != "Taiwan & Llama" || got[0].Metadata["title"] != "Llama 3 in Taiwan" {
		t.Fatalf("markup not stripped: %+v", got[0])
	}
}
