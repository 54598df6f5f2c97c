package wikipedia

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mohammad-safakhou/podcaster/internal/agent/core"
)

const userAgent = "PodcasterAgent/1.0 (research assistant)"

// Search queries the MediaWiki API and loads plain-text page extracts.
type Search struct {
	Endpoint string // e.g. https://en.wikipedia.org/w/api.php
	MaxDocs  int
	MaxChars int
	HTTP     *core.HTTPClient
}

func New(endpoint string, maxDocs, maxChars int, timeout time.Duration) *Search {
	return &Search{Endpoint: endpoint, MaxDocs: maxDocs, MaxChars: maxChars, HTTP: core.NewHTTPClient(timeout, 1, 0)}
}

func (s *Search) Name() string { return "encyclopedia" }

type searchResponse struct {
	Query struct {
		Search []struct {
			Title  string `json:"title"`
			PageID int    `json:"pageid"`
		} `json:"search"`
	} `json:"query"`
}

type extractResponse struct {
	Query struct {
		Pages map[string]struct {
			PageID  int    `json:"pageid"`
			Title   string `json:"title"`
			Extract string `json:"extract"`
			FullURL string `json:"fullurl"`
		} `json:"pages"`
	} `json:"query"`
}

// Search returns up to min(k, MaxDocs) pages matching query.
func (s *Search) Search(ctx context.Context, query string, k int) ([]core.Passage, error) {
	limit := k
	if s.MaxDocs > 0 && (limit <= 0 || limit > s.MaxDocs) {
		limit = s.MaxDocs
	}
	if limit <= 0 {
		limit = 2
	}
	params := url.Values{
		"action":   {"query"},
		"format":   {"json"},
		"list":     {"search"},
		"srsearch": {query},
		"srlimit":  {strconv.Itoa(limit)},
	}
	var sr searchResponse
	if err := s.get(ctx, params, &sr); err != nil {
		return nil, &core.RetrievalError{Adapter: s.Name(), Query: query, Err: err}
	}

	out := make([]core.Passage, 0, len(sr.Query.Search))
	for _, hit := range sr.Query.Search {
		p, err := s.page(ctx, hit.PageID)
		if err != nil {
			return nil, &core.RetrievalError{Adapter: s.Name(), Query: query, Err: err}
		}
		if strings.TrimSpace(p.Content) == "" {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *Search) page(ctx context.Context, pageID int) (core.Passage, error) {
	params := url.Values{
		"action":      {"query"},
		"format":      {"json"},
		"prop":        {"extracts|info"},
		"inprop":      {"url"},
		"explaintext": {"1"},
		"pageids":     {strconv.Itoa(pageID)},
	}
	var er extractResponse
	if err := s.get(ctx, params, &er); err != nil {
		return core.Passage{}, err
	}
	for _, pg := range er.Query.Pages {
		text := strings.TrimSpace(pg.Extract)
		if s.MaxChars > 0 {
			if r := []rune(text); len(r) > s.MaxChars {
				text = string(r[:s.MaxChars])
			}
		}
		return core.Passage{
			Content: text,
			Metadata: map[string]string{
				"title":  pg.Title,
				"source": pg.FullURL,
			},
		}, nil
	}
	return core.Passage{}, fmt.Errorf("page %d not found", pageID)
}

func (s *Search) get(ctx context.Context, params url.Values, out any) error {
	u := s.Endpoint + "?" + params.Encode()
	return s.HTTP.DoJSON(ctx, http.MethodGet, u, map[string]string{"User-Agent": userAgent}, nil, out)
}
