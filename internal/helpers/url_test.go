package helpers

import "testing"

func TestCanonicalURL(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want string
	}{
		{"arxiv.org/abs/2405.04434", "https://arxiv.org/abs/2405.04434"},
		{"HTTPS://WWW.Example.com:443/blog/../posts/llama/#intro", "https://example.com/posts/llama"},
		{"http://example.com:8080/a?b=2&a=1&utm_source=rss&fbclid=x", "http://example.com:8080/a?a=1&b=2"},
		{"//blog.example.com//post///42?utm_medium=email", "https://blog.example.com/post/42"},
		{"https://example.com/", "https://example.com"},
	}
	for _, tt := range tests {
		got, err := CanonicalURL(tt.in)
		if err != nil {
			t.Fatalf("CanonicalURL(%q): %v", tt.in, err)
		}
		if got != tt.want {
			t.Fatalf("CanonicalURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestCanonicalURLErrors(t *testing.T) {
	t.Parallel()
	for _, in := range []string{"", "   ", "https://", "http://[::1"} {
		if _, err := CanonicalURL(in); err == nil {
			t.Fatalf("expected error for %q", in)
		}
	}
}
