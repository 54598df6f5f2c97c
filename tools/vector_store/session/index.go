package session

import (
	"math"
	"sort"
	"sync"

	"github.com/blevesearch/bleve"

	"github.com/mohammad-safakhou/podcaster/tools/vector_store/models"
)

const rrfK = 60 // reciprocal-rank-fusion constant

type embedVec struct {
	ID  string
	Vec []float32
}

// Index is the in-process BM25 + vector index backing every session type.
type Index struct {
	mu      sync.RWMutex
	bleve   bleve.Index
	meta    map[string]models.Chunk
	vectors []embedVec
}

func NewIndex() (*Index, error) {
	index, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, err
	}
	return &Index{bleve: index, meta: make(map[string]models.Chunk)}, nil
}

// Add indexes a chunk; re-adding a known ID is a no-op.
func (x *Index) Add(chunk models.Chunk, vec []float32) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if _, ok := x.meta[chunk.ID]; ok {
		return nil
	}
	if err := x.bleve.Index(chunk.ID, chunk); err != nil {
		return err
	}
	x.meta[chunk.ID] = chunk
	if len(vec) > 0 {
		x.vectors = append(x.vectors, embedVec{ID: chunk.ID, Vec: vec})
	}
	return nil
}

func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.meta)
}

func (x *Index) Chunks() []models.Chunk {
	x.mu.RLock()
	defer x.mu.RUnlock()
	out := make([]models.Chunk, 0, len(x.meta))
	for _, c := range x.meta {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// RemoveSource drops every chunk ingested from source and returns their IDs.
func (x *Index) RemoveSource(source string) ([]string, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	var ids []string
	for id, c := range x.meta {
		if c.Source != source {
			continue
		}
		if err := x.bleve.Delete(id); err != nil {
			return ids, err
		}
		delete(x.meta, id)
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	kept := x.vectors[:0]
	for _, v := range x.vectors {
		if _, ok := x.meta[v.ID]; ok {
			kept = append(kept, v)
		}
	}
	x.vectors = kept
	sort.Strings(ids)
	return ids, nil
}

// Search fuses BM25 and vector hits.
func (x *Index) Search(q string, qvec []float32, k int) ([]models.Hit, error) {
	if k <= 0 || k > 50 {
		k = 10
	}
	bm, err := x.Bm25Search(q, k)
	if err != nil {
		return nil, err
	}
	if len(qvec) == 0 {
		return bm, nil
	}
	return FuseRRF(bm, x.VectorSearch(qvec, k), k), nil
}

func (x *Index) Bm25Search(q string, k int) ([]models.Hit, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	// match query: generated search queries routinely contain ':' and '+'
	query := bleve.NewMatchQuery(q)
	searchReq := bleve.NewSearchRequestOptions(query, k*3, 0, false)
	res, err := x.bleve.Search(searchReq)
	if err != nil {
		return nil, err
	}
	var out []models.Hit
	for i, hit := range res.Hits {
		out = append(out, x.hit(hit.ID, hit.Score, i+1))
		if len(out) >= k {
			break
		}
	}
	return out, nil
}

func (x *Index) VectorSearch(q []float32, k int) []models.Hit {
	x.mu.RLock()
	defer x.mu.RUnlock()
	type scored struct {
		id    string
		score float64
	}
	scoreds := make([]scored, 0, len(x.vectors))
	for _, v := range x.vectors {
		scoreds = append(scoreds, scored{id: v.ID, score: cosine(q, v.Vec)})
	}
	sort.SliceStable(scoreds, func(i, j int) bool { return scoreds[i].score > scoreds[j].score })
	var out []models.Hit
	for i, sc := range scoreds {
		out = append(out, x.hit(sc.id, sc.score, i+1))
		if len(out) >= k {
			break
		}
	}
	return out
}

func (x *Index) hit(id string, score float64, rank int) models.Hit {
	doc := x.meta[id]
	return models.Hit{ID: id, Source: doc.Source, Title: doc.Title, Text: doc.Text, Score: score, Rank: rank}
}

// FuseRRF merges ranked lists with reciprocal rank fusion.
func FuseRRF(a, b []models.Hit, k int) []models.Hit {
	type agg struct {
		item  models.Hit
		score float64
	}
	m := map[string]*agg{}
	add := func(list []models.Hit) {
		for _, h := range list {
			x, ok := m[h.ID]
			if !ok {
				x = &agg{item: h}
				m[h.ID] = x
			}
			x.score += 1.0 / float64(rrfK+h.Rank)
		}
	}
	add(a)
	add(b)
	items := make([]*agg, 0, len(m))
	for _, v := range m {
		items = append(items, v)
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].score == items[j].score {
			return items[i].item.ID < items[j].item.ID
		}
		return items[i].score > items[j].score
	})
	n := min(k, len(items))
	out := make([]models.Hit, 0, n)
	for i := 0; i < n; i++ {
		h := items[i].item
		h.Score = items[i].score
		h.Rank = i + 1
		out = append(out, h)
	}
	return out
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		ai := float64(a[i])
		bi := float64(b[i])
		dot += ai * bi
		na += ai * ai
		nb += bi * bi
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
