package reader

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"

	"github.com/mohammad-safakhou/podcaster/internal/agent/core"
	"github.com/mohammad-safakhou/podcaster/tools/arxiv"
)

var (
	sectionSel  = cascadia.MustCompile("section.ltx_section")
	headingSel  = cascadia.MustCompile("h2")
	paraSel     = cascadia.MustCompile("p")
	titleSel    = cascadia.MustCompile("title")
	authorSel   = cascadia.MustCompile("span.ltx_personname")
	abstractSel = cascadia.MustCompile("div.ltx_abstract")

	numbering = regexp.MustCompile(`^\d+\s`)
	dagger    = regexp.MustCompile(`\x{2020}.*`)
)

// VersionResolver finds the newest version number of a paper.
type VersionResolver interface {
	LatestVersion(ctx context.Context, id string) (int, error)
}

// HTMLFetcher returns the raw HTML of a page.
type HTMLFetcher interface {
	HTML(ctx context.Context, url string) (string, error)
}

// Paper is an arXiv paper read from its HTML rendering.
type Paper struct {
	ID       string
	Version  int
	Title    string
	Authors  []string
	Abstract string
	Sections []PaperSection
}

type PaperSection struct {
	ID      string
	Title   string
	Content string
}

// Markdown renders the sections in document order.
func (p Paper) Markdown() string {
	var b strings.Builder
	for _, s := range p.Sections {
		fmt.Fprintf(&b, "## %s\n\n%s\n\n*Section ID: %s*\n\n", s.Title, s.Content, s.ID)
	}
	return b.String()
}

// ArxivReader reads the latest HTML version of an arXiv paper.
type ArxivReader struct {
	Versions     VersionResolver
	Fetcher      HTMLFetcher
	HTMLEndpoint string
}

func (r ArxivReader) Read(ctx context.Context, url string) (string, error) {
	paper, err := r.ReadPaper(ctx, url)
	if err != nil {
		return "", err
	}
	return paper.Markdown(), nil
}

func (r ArxivReader) ReadPaper(ctx context.Context, url string) (Paper, error) {
	fail := func(err error) (Paper, error) {
		return Paper{}, &core.SourceReadError{Source: url, Err: err}
	}
	id, err := arxiv.ParseID(url)
	if err != nil {
		return fail(err)
	}
	version, err := r.Versions.LatestVersion(ctx, id)
	if err != nil {
		return fail(fmt.Errorf("resolve version of %s: %w", id, err))
	}
	endpoint := strings.TrimRight(r.HTMLEndpoint, "/")
	if endpoint == "" {
		endpoint = "https://arxiv.org/html"
	}
	page, err := r.Fetcher.HTML(ctx, fmt.Sprintf("%s/%sv%d", endpoint, id, version))
	if err != nil {
		return fail(err)
	}
	paper, err := ParsePaperHTML(page)
	if err != nil {
		return fail(err)
	}
	paper.ID, paper.Version = id, version
	return paper, nil
}

// ParsePaperHTML extracts metadata and ltx_section contents from an arXiv HTML page.
func ParsePaperHTML(page string) (Paper, error) {
	doc, err := html.Parse(strings.NewReader(page))
	if err != nil {
		return Paper{}, err
	}
	var paper Paper
	if n := cascadia.Query(doc, titleSel); n != nil {
		paper.Title = strings.TrimSpace(text(n))
	}
	for _, n := range cascadia.QueryAll(doc, authorSel) {
		if name := strings.TrimSpace(dagger.ReplaceAllString(text(n), "")); name != "" {
			paper.Authors = append(paper.Authors, name)
		}
	}
	if n := cascadia.Query(doc, abstractSel); n != nil {
		paper.Abstract = strings.TrimSpace(text(n))
	}
	for _, sec := range cascadia.QueryAll(doc, sectionSel) {
		title := "No Title"
		if h := cascadia.Query(sec, headingSel); h != nil {
			title = numbering.ReplaceAllString(strings.TrimSpace(text(h)), "")
		}
		var paras []string
		for _, p := range cascadia.QueryAll(sec, paraSel) {
			paras = append(paras, strings.TrimSpace(text(p)))
		}
		id := attr(sec, "id")
		if id == "" {
			id = "No ID"
		}
		paper.Sections = append(paper.Sections, PaperSection{ID: id, Title: title, Content: strings.Join(paras, " ")})
	}
	if len(paper.Sections) == 0 {
		return Paper{}, errors.New("no sections found")
	}
	return paper, nil
}

func text(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}
