package helpers

import (
	"html"
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"
)

var (
	reportPolicyOnce sync.Once
	reportPolicy     *bluemonday.Policy
	plainPolicy      = bluemonday.StrictPolicy()
)

// ReportPolicy allows the markup a rendered research report uses: headings,
// lists, tables, emphasis, code blocks and http(s) links.
func ReportPolicy() *bluemonday.Policy {
	reportPolicyOnce.Do(func() {
		p := bluemonday.UGCPolicy()
		p.AllowAttrs("class").OnElements("code", "pre")
		p.AllowURLSchemes("http", "https", "mailto")
		p.RequireParseableURLs(true)
		p.AddTargetBlankToFullyQualifiedLinks(true)
		reportPolicy = p
	})
	return reportPolicy
}

// SanitizeHTMLRichText cleans rendered report HTML with ReportPolicy.
func SanitizeHTMLRichText(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	return strings.TrimSpace(ReportPolicy().Sanitize(s))
}

// PlainText strips every tag from a search snippet or title and decodes
// entities, so "<strong>Llama</strong> &amp; Qwen" becomes "Llama & Qwen".
func PlainText(s string) string {
	s = plainPolicy.Sanitize(s)
	return strings.Join(strings.Fields(html.UnescapeString(s)), " ")
}
