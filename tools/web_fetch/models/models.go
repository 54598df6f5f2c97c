package models

import "time"

// Result is the readable text of one rendered page. Status is 200 when text
// was extracted and 599 when the browser could not render the page.
type Result struct {
	URL         string        `json:"url"`
	Title       string        `json:"title,omitempty"`
	Byline      string        `json:"byline,omitempty"`
	PublishedAt string        `json:"published_at,omitempty"`
	Text        string        `json:"text"`
	Status      int           `json:"status"`
	Render      time.Duration `json:"render"`
}
