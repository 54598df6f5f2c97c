package web_search

import (
	"context"
	"log"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mohammad-safakhou/podcaster/internal/agent/core"
	"github.com/mohammad-safakhou/podcaster/internal/helpers"
	fetchmodels "github.com/mohammad-safakhou/podcaster/tools/web_fetch/models"
	"github.com/mohammad-safakhou/podcaster/tools/web_search/brave"
	"github.com/mohammad-safakhou/podcaster/tools/web_search/models"
	"github.com/mohammad-safakhou/podcaster/tools/web_search/serper"
	"github.com/mohammad-safakhou/podcaster/tools/web_search/tavily"
)

type WebSearcher interface {
	Discover(ctx context.Context, q string, k int) ([]models.Result, error)
}

type Provider string

const (
	TavilyProvider Provider = "tavily"
	SerperProvider Provider = "serper"
	BraveProvider  Provider = "brave"
)

type Error struct{ msg string }

func (e *Error) Error() string { return e.msg }

var ErrUnsupportedProvider = &Error{"unsupported provider"}

func NewWebSearcher(provider Provider, apiKey string, timeout time.Duration) (WebSearcher, error) {
	client := core.NewHTTPClient(timeout, 2, 0)
	switch provider {
	case TavilyProvider:
		return tavily.Search{APIKey: apiKey, HTTP: client}, nil
	case SerperProvider:
		return serper.Search{ApiKey: apiKey, HTTP: client}, nil
	case BraveProvider:
		return brave.Search{ApiKey: apiKey, HTTP: client}, nil
	default:
		return nil, ErrUnsupportedProvider
	}
}

// PageFetcher loads the readable text of a page.
type PageFetcher interface {
	Exec(ctx context.Context, url string) (fetchmodels.Result, error)
}

// Retriever exposes a WebSearcher as a retrieval adapter. Hits pointing at the
// same canonical URL are collapsed and snippet markup is stripped. When Fetcher
// is set, each hit's snippet is replaced by the page's readable text.
type Retriever struct {
	Searcher WebSearcher
	Fetcher  PageFetcher
	MaxChars int
	Logger   *log.Logger
}

func (r *Retriever) Name() string { return "web" }

func (r *Retriever) Search(ctx context.Context, query string, k int) ([]core.Passage, error) {
	results, err := r.Searcher.Discover(ctx, query, k)
	if err != nil {
		return nil, &core.RetrievalError{Adapter: r.Name(), Query: query, Err: err}
	}
	passages := make([]core.Passage, 0, len(results))
	seen := make(map[string]struct{}, len(results))
	for _, res := range results {
		key, err := helpers.CanonicalURL(res.URL)
		if err != nil {
			key = res.URL
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		passages = append(passages, core.Passage{
			Content:  helpers.PlainText(res.Snippet),
			Metadata: map[string]string{"url": res.URL, "title": helpers.PlainText(res.Title)},
		})
	}
	if r.Fetcher == nil {
		return passages, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i := range passages {
		i := i
		g.Go(func() error {
			page, err := r.Fetcher.Exec(gctx, passages[i].Metadata["url"])
			if err != nil || page.Status != 200 || strings.TrimSpace(page.Text) == "" {
				if r.Logger != nil {
					r.Logger.Printf("full text unavailable for %s, keeping snippet", passages[i].Metadata["url"])
				}
				return nil
			}
			text := page.Text
			if r.MaxChars > 0 && len([]rune(text)) > r.MaxChars {
				text = string([]rune(text)[:r.MaxChars])
			}
			passages[i].Content = text
			return nil
		})
	}
	_ = g.Wait()
	return passages, nil
}
