package models

import "time"

// Document is a piece of source material handed to the store, usually an
// enriched summary keyed by the PDF path or arXiv URL it came from.
type Document struct {
	Source string `json:"source"`
	Title  string `json:"title"`
	Text   string `json:"text"`
}

// Chunk is one indexed slice of a Document.
type Chunk struct {
	ID         string    `json:"id"`
	Source     string    `json:"source"`
	Title      string    `json:"title"`
	Text       string    `json:"text"`
	Index      int       `json:"index"`
	Hash       string    `json:"hash"`
	Session    string    `json:"session"`
	IngestedAt time.Time `json:"ingested_at"`
}

type Hit struct {
	ID     string  `json:"id"`
	Source string  `json:"source"`
	Title  string  `json:"title"`
	Text   string  `json:"text"`
	Score  float64 `json:"score"`
	Rank   int     `json:"rank"`
}

type IngestResult struct {
	Session  string `json:"session"`
	Chunks   int    `json:"chunks"`
	Embedded int    `json:"embedded"`
}

// Reference summarizes one ingested source in the library.
type Reference struct {
	Source     string    `json:"source"`
	Title      string    `json:"title"`
	Chunks     int       `json:"chunks"`
	IngestedAt time.Time `json:"ingested_at"`
}
