package chromedp

import (
	"strings"
	"testing"
)

const articleHTML = `<html><head><title>Llama-3-Taiwan</title></head><body>
<article><h1>Llama-3-Taiwan</h1>
<p>Llama-3-Taiwan is a family of Traditional Chinese models fine-tuned from Llama 3. The release ships 8B and 70B parameter variants.</p>
<p>The team collected roughly one hundred billion tokens of synthetic textbook data alongside legal, medical and manufacturing corpora.</p>
<p>Evaluation on Taiwanese knowledge benchmarks shows consistent gains over the base model across every category that was tested.</p>
</article></body></html>`

func TestExtractReadableText(t *testing.T) {
	res, err := Extract(articleHTML, "https://example.com/llama", 0)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if res.Status != 200 || !strings.Contains(res.Title, "Llama") {
		t.Fatalf("unexpected result: %+v", res)
	}
	if !strings.Contains(res.Text, "one hundred billion tokens") {
		t.Fatalf("expected article text, got %q", res.Text)
	}

	short, err := Extract(articleHTML, "https://example.com/llama", 10)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len([]rune(short.Text)) != 10 {
		t.Fatalf("expected 10 runes, got %d", len([]rune(short.Text)))
	}
}
