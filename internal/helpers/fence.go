package helpers

import "strings"

// Unfence returns the body of s when the whole answer is wrapped in a single
// ``` or ~~~ code fence whose info string is empty or one of langs. Any other
// input is returned trimmed but otherwise unchanged.
func Unfence(s string, langs ...string) string {
	s = strings.TrimSpace(strings.TrimPrefix(s, "\uFEFF"))
	for _, fence := range []string{"```", "~~~"} {
		if !strings.HasPrefix(s, fence) || !strings.HasSuffix(s, fence) || len(s) < 2*len(fence) {
			continue
		}
		nl := strings.IndexByte(s, '\n')
		if nl < 0 || nl+1 > len(s)-len(fence) {
			return s
		}
		info := strings.ToLower(strings.TrimSpace(s[len(fence):nl]))
		if info != "" && !containsFold(langs, info) {
			return s
		}
		body := s[nl+1 : len(s)-len(fence)]
		if strings.Contains(body, "\n"+fence) {
			return s
		}
		return strings.TrimSpace(body)
	}
	return s
}

func containsFold(list []string, v string) bool {
	for _, item := range list {
		if strings.EqualFold(strings.TrimSpace(item), v) {
			return true
		}
	}
	return false
}
