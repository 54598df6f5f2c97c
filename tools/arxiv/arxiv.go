package arxiv

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/mohammad-safakhou/podcaster/internal/agent/core"
)

const DefaultEndpoint = "https://export.arxiv.org/api/query"

var (
	versionRe = regexp.MustCompile(`v(\d+)$`)
	idRe      = regexp.MustCompile(`arxiv\.org/(?:abs|pdf|html)/([^/?#]+?)(?:\.pdf)?/?(?:[?#].*)?$`)
	spaceRe   = regexp.MustCompile(`\s+`)
)

// Entry is one paper returned by the arXiv API.
type Entry struct {
	ID        string
	Title     string
	Summary   string
	Authors   []string
	Published time.Time
}

type feed struct {
	Entries []struct {
		ID        string `xml:"id"`
		Title     string `xml:"title"`
		Summary   string `xml:"summary"`
		Published string `xml:"published"`
		Authors   []struct {
			Name string `xml:"name"`
		} `xml:"author"`
	} `xml:"entry"`
}

// Client talks to the arXiv Atom API.
type Client struct {
	Endpoint   string
	MaxResults int
	HTTP       *core.HTTPClient
}

func New(endpoint string, maxResults int, timeout time.Duration) *Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if maxResults <= 0 {
		maxResults = 10
	}
	return &Client{Endpoint: endpoint, MaxResults: maxResults, HTTP: core.NewHTTPClient(timeout, 2, time.Second)}
}

func (c *Client) Name() string { return "papers" }

// Search implements a retrieval adapter sorted by relevance.
func (c *Client) Search(ctx context.Context, query string, k int) ([]core.Passage, error) {
	if k <= 0 || k > c.MaxResults {
		k = c.MaxResults
	}
	params := url.Values{
		"search_query": {"all:" + query},
		"start":        {"0"},
		"max_results":  {strconv.Itoa(k)},
		"sortBy":       {"relevance"},
	}
	entries, err := c.query(ctx, params)
	if err != nil {
		return nil, &core.RetrievalError{Adapter: c.Name(), Query: query, Err: err}
	}
	out := make([]core.Passage, 0, len(entries))
	for _, e := range entries {
		out = append(out, core.Passage{
			Content: e.Title + "\n\n" + e.Summary,
			Metadata: map[string]string{
				"title":     e.Title,
				"authors":   strings.Join(e.Authors, ", "),
				"published": e.Published.Format("2006-01-02"),
				"url":       e.ID,
			},
		})
	}
	return out, nil
}

// LatestVersion resolves the newest version number of a paper.
func (c *Client) LatestVersion(ctx context.Context, id string) (int, error) {
	entries, err := c.query(ctx, url.Values{"id_list": {id}})
	if err != nil {
		return 0, err
	}
	if len(entries) == 0 {
		return 0, fmt.Errorf("paper %s not found", id)
	}
	m := versionRe.FindStringSubmatch(entries[0].ID)
	if m == nil {
		return 1, nil
	}
	return strconv.Atoi(m[1])
}

func (c *Client) query(ctx context.Context, params url.Values) ([]Entry, error) {
	raw, err := c.HTTP.Do(ctx, http.MethodGet, c.Endpoint+"?"+params.Encode(), nil, nil)
	if err != nil {
		return nil, err
	}
	var f feed
	if err := xml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("decode arxiv feed: %w", err)
	}
	entries := make([]Entry, 0, len(f.Entries))
	for _, e := range f.Entries {
		// the API reports errors as a single entry whose id is an error URL
		if strings.Contains(e.ID, "/api/errors") {
			return nil, errors.New(clean(e.Summary))
		}
		entry := Entry{ID: strings.TrimSpace(e.ID), Title: clean(e.Title), Summary: clean(e.Summary)}
		for _, a := range e.Authors {
			entry.Authors = append(entry.Authors, clean(a.Name))
		}
		if t, err := time.Parse(time.RFC3339, strings.TrimSpace(e.Published)); err == nil {
			entry.Published = t
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// ParseID extracts the versionless paper id from an abs, pdf or html URL.
func ParseID(rawURL string) (string, error) {
	m := idRe.FindStringSubmatch(strings.TrimSpace(rawURL))
	if m == nil {
		return "", fmt.Errorf("not an arXiv paper URL: %q", rawURL)
	}
	return versionRe.ReplaceAllString(m[1], ""), nil
}

func clean(s string) string {
	return strings.TrimSpace(spaceRe.ReplaceAllString(s, " "))
}
