package arxiv

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

const atomFeed = `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <entry>
    <id>http://arxiv.org/abs/2406.12345v3</id>
    <published>2024-06-18T17:59:59Z</published>
    <title>Llama-3-Taiwan:
      Traditional Chinese Models</title>
    <summary>  We release   models.  </summary>
    <author><name>Yen-Ting Lin</name></author>
    <author><name>Yun-Nung Chen</name></author>
  </entry>
</feed>`

func TestParseID(t *testing.T) {
	cases := map[string]string{
		"https://arxiv.org/abs/2406.12345":       "2406.12345",
		"https://arxiv.org/abs/2406.12345v2":     "2406.12345",
		"https://arxiv.org/pdf/2406.12345v1.pdf": "2406.12345",
		"https://arxiv.org/html/2406.12345v3":    "2406.12345",
		"https://arxiv.org/abs/2406.12345?ctx=1": "2406.12345",
	}
	for in, want := range cases {
		got, err := ParseID(in)
		if err != nil || got != want {
			t.Errorf("ParseID(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := ParseID("https://example.com/paper"); err == nil {
		t.Fatalf("expected error for non-arxiv url")
	}
}

func TestSearchAndLatestVersion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("search_query") != "" && q.Get("sortBy") != "relevance" {
			t.Errorf("search must sort by relevance")
		}
		fmt.Fprint(w, atomFeed)
	}))
	defer srv.Close()

	c := New(srv.URL, 10, time.Second)
	got, err := c.Search(context.Background(), "taiwan llama", 3)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 passage, got %d", len(got))
	}
	p := got[0]
	if p.Content != "Llama-3-Taiwan: Traditional Chinese Models\n\nWe release models." {
		t.Fatalf("unexpected content %q", p.Content)
	}
	if p.Metadata["authors"] != "Yen-Ting Lin, Yun-Nung Chen" || p.Metadata["published"] != "2024-06-18" {
		t.Fatalf("unexpected metadata %+v", p.Metadata)
	}

	v, err := c.LatestVersion(context.Background(), "2406.12345")
	if err != nil || v != 3 {
		t.Fatalf("LatestVersion = %d, %v", v, err)
	}
}
