package embedding

import (
	"context"
	"errors"
	"testing"
)

type countingEmbedder struct {
	calls [][]string
	err   error
}

func (c *countingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if c.err != nil {
		return nil, c.err
	}
	c.calls = append(c.calls, texts)
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t))}
	}
	return out, nil
}

func TestEmbedManyBatches(t *testing.T) {
	emb := &countingEmbedder{}
	e := NewEmbedding(emb)
	e.batch = 2

	vecs, err := e.EmbedMany(context.Background(), []string{"a", "bb", "ccc", "dddd", "eeeee"})
	if err != nil {
		t.Fatalf("EmbedMany: %v", err)
	}
	if len(emb.calls) != 3 || len(emb.calls[2]) != 1 {
		t.Fatalf("expected batches of 2,2,1, got %v", emb.calls)
	}
	if len(vecs) != 5 || vecs[4][0] != 5 {
		t.Fatalf("vectors out of order: %v", vecs)
	}
}

func TestEmbedOne(t *testing.T) {
	e := NewEmbedding(&countingEmbedder{})
	vec, err := e.EmbedOne(context.Background(), "abc")
	if err != nil || len(vec) != 1 || vec[0] != 3 {
		t.Fatalf("EmbedOne: %v %v", vec, err)
	}

	boom := errors.New("boom")
	if _, err := NewEmbedding(&countingEmbedder{err: boom}).EmbedOne(context.Background(), "x"); !errors.Is(err, boom) {
		t.Fatalf("expected embedder error, got %v", err)
	}

	var nilEmb *Embedding
	if vecs, err := nilEmb.EmbedMany(context.Background(), []string{"x"}); vecs != nil || err != nil {
		t.Fatalf("nil embedding should be a no-op")
	}
}
