package tavily

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/mohammad-safakhou/podcaster/internal/agent/core"
	"github.com/mohammad-safakhou/podcaster/tools/web_search/models"
)

const DefaultEndpoint = "https://api.tavily.com/search"

// Search calls the Tavily search API.
type Search struct {
	APIKey   string
	Endpoint string
	// Depth controls Tavily's search_depth parameter (basic or advanced).
	Depth string
	HTTP  *core.HTTPClient
}

func (s Search) Discover(ctx context.Context, q string, k int) ([]models.Result, error) {
	if strings.TrimSpace(s.APIKey) == "" {
		return nil, errors.New("tavily: API key is missing")
	}
	endpoint := s.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	depth := s.Depth
	if depth == "" {
		depth = "basic"
	}
	body := map[string]any{
		"query":        q,
		"api_key":      s.APIKey,
		"search_depth": depth,
		"max_results":  k,
	}
	var raw struct {
		Results []struct {
			Title   string `json:"title"`
			URL     string `json:"url"`
			Content string `json:"content"`
		} `json:"results"`
	}
	if err := s.HTTP.DoJSON(ctx, http.MethodPost, endpoint, nil, body, &raw); err != nil {
		return nil, err
	}
	out := make([]models.Result, 0, len(raw.Results))
	for _, r := range raw.Results {
		if len(out) >= k {
			break
		}
		out = append(out, models.Result{Title: r.Title, URL: r.URL, Snippet: r.Content})
	}
	return out, nil
}
