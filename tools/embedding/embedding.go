package embedding

import (
	"context"
)

// Embedder turns texts into vectors, one per input.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

type Embedding struct {
	embedder Embedder
	batch    int
}

func NewEmbedding(embedder Embedder) *Embedding {
	return &Embedding{embedder: embedder, batch: 64}
}

// EmbedMany embeds texts in batches; the result has one vector per text.
func (e *Embedding) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	if e == nil || e.embedder == nil || len(texts) == 0 {
		return nil, nil
	}
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.batch {
		end := min(start+e.batch, len(texts))
		vecs, err := e.embedder.Embed(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (e *Embedding) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedMany(ctx, []string{text})
	if err != nil || len(vecs) == 0 {
		return nil, err
	}
	return vecs[0], nil
}
