package vector_store

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/mohammad-safakhou/podcaster/config"
	"github.com/mohammad-safakhou/podcaster/internal/agent/core"
	"github.com/mohammad-safakhou/podcaster/tools/embedding"
	"github.com/mohammad-safakhou/podcaster/tools/vector_store/models"
	"github.com/mohammad-safakhou/podcaster/tools/vector_store/session"
	"github.com/mohammad-safakhou/podcaster/tools/vector_store/session/inmemory"
	redis_session "github.com/mohammad-safakhou/podcaster/tools/vector_store/session/redis"
)

type StoreType string

const (
	InMemoryStore StoreType = "inmemory"
	RedisStore    StoreType = "redis"
)

var ErrNoDocuments = errors.New("no documents provided")

// VectorStore is a reference library: documents are chunked, indexed for
// BM25 and optionally embedded, and searched with rank fusion.
type VectorStore struct {
	Store     session.Store
	Embedding *embedding.Embedding
	SessionID string
	TTL       time.Duration
	TopK      int
	ChunkSize int
	Overlap   int
	logger    *log.Logger
}

// New builds a VectorStore from configuration. emb may be nil, in which
// case search is BM25 only.
func New(cfg config.VectorStoreConfig, storage config.StorageConfig, emb *embedding.Embedding) (*VectorStore, error) {
	var store session.Store
	switch StoreType(cfg.Backend) {
	case InMemoryStore, "":
		store = inmemory.NewInMemorySessionStore()
	case RedisStore:
		store = redis_session.NewRedisSessionStore(storage.Redis.Addr(), storage.Redis.Password, storage.Redis.DB)
	default:
		return nil, fmt.Errorf("unsupported vector store backend: %s", cfg.Backend)
	}
	return &VectorStore{
		Store:     store,
		Embedding: emb,
		SessionID: cfg.SessionID,
		TTL:       cfg.TTL,
		TopK:      cfg.TopK,
		ChunkSize: cfg.ChunkSize,
		Overlap:   cfg.ChunkOverlap,
		logger:    log.New(log.Writer(), "[VECTOR] ", log.LstdFlags),
	}, nil
}

func (v *VectorStore) Ingest(ctx context.Context, docs []models.Document) (models.IngestResult, error) {
	if len(docs) == 0 {
		return models.IngestResult{}, ErrNoDocuments
	}
	sess, err := v.Store.EnsureSession(ctx, v.SessionID, v.TTL)
	if err != nil {
		return models.IngestResult{}, err
	}

	var chunks []models.Chunk
	now := time.Now()
	for _, doc := range docs {
		if strings.TrimSpace(doc.Text) == "" {
			continue
		}
		hash := sha1Hex(doc.Text)
		for i, part := range makeChunks(doc.Text, v.ChunkSize, v.Overlap) {
			chunks = append(chunks, models.Chunk{
				ID:         fmt.Sprintf("%s#%03d", hash, i),
				Source:     doc.Source,
				Title:      doc.Title,
				Text:       part,
				Index:      i,
				Hash:       hash,
				Session:    sess.ID(),
				IngestedAt: now,
			})
		}
	}

	var vecs [][]float32
	if v.Embedding != nil && len(chunks) > 0 {
		texts := make([]string, len(chunks))
		for i, c := range chunks {
			texts[i] = c.Text
		}
		vecs, err = v.Embedding.EmbedMany(ctx, texts)
		if err != nil {
			// BM25 still works without vectors
			v.logger.Printf("embedding failed, indexing %d chunks for BM25 only: %v", len(chunks), err)
			vecs = nil
		}
	}

	embedded := 0
	for i, chunk := range chunks {
		var vec []float32
		if i < len(vecs) {
			vec = vecs[i]
			embedded++
		}
		if err := sess.AddChunk(ctx, chunk, vec); err != nil {
			return models.IngestResult{}, fmt.Errorf("failed to add chunk: %w", err)
		}
	}

	return models.IngestResult{Session: sess.ID(), Chunks: len(chunks), Embedded: embedded}, nil
}

// Name implements the retrieval adapter contract.
func (v *VectorStore) Name() string { return "vector_store" }

func (v *VectorStore) Search(ctx context.Context, query string, k int) ([]core.Passage, error) {
	if k <= 0 {
		k = v.TopK
	}
	sess, err := v.Store.GetSession(ctx, v.SessionID)
	if err != nil {
		return nil, &core.RetrievalError{Adapter: v.Name(), Query: query, Err: err}
	}
	if sess == nil {
		return nil, nil
	}
	var qvec []float32
	if v.Embedding != nil {
		if qvec, err = v.Embedding.EmbedOne(ctx, query); err != nil {
			v.logger.Printf("query embedding failed, falling back to BM25: %v", err)
			qvec = nil
		}
	}
	hits, err := sess.Search(ctx, query, qvec, k)
	if err != nil {
		return nil, &core.RetrievalError{Adapter: v.Name(), Query: query, Err: err}
	}
	out := make([]core.Passage, 0, len(hits))
	for _, h := range hits {
		out = append(out, core.Passage{
			Content:  h.Text,
			Metadata: map[string]string{"source": h.Source, "title": h.Title, "chunk": h.ID},
		})
	}
	return out, nil
}

// References lists the library's sources, newest first.
func (v *VectorStore) References(ctx context.Context) ([]models.Reference, error) {
	sess, err := v.Store.GetSession(ctx, v.SessionID)
	if err != nil || sess == nil {
		return nil, err
	}
	chunks, err := sess.Chunks(ctx)
	if err != nil {
		return nil, err
	}
	bySource := map[string]*models.Reference{}
	var out []*models.Reference
	for _, c := range chunks {
		ref, ok := bySource[c.Source]
		if !ok {
			ref = &models.Reference{Source: c.Source, Title: c.Title}
			bySource[c.Source] = ref
			out = append(out, ref)
		}
		ref.Chunks++
		if c.IngestedAt.After(ref.IngestedAt) {
			ref.IngestedAt = c.IngestedAt
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IngestedAt.Equal(out[j].IngestedAt) {
			return out[i].Source < out[j].Source
		}
		return out[i].IngestedAt.After(out[j].IngestedAt)
	})
	refs := make([]models.Reference, len(out))
	for i, r := range out {
		refs[i] = *r
	}
	return refs, nil
}

// RemoveReference drops every chunk of source. A missing session removes nothing.
func (v *VectorStore) RemoveReference(ctx context.Context, source string) (int, error) {
	sess, err := v.Store.GetSession(ctx, v.SessionID)
	if err != nil || sess == nil {
		return 0, err
	}
	n, err := sess.RemoveSource(ctx, source)
	if err != nil {
		return n, err
	}
	v.logger.Printf("removed %d chunks of %s", n, source)
	return n, nil
}

func sha1Hex(s string) string {
	h := sha1.Sum([]byte(s))
	return hex.EncodeToString(h[:])
}

// makeChunks splits text into windows of approx runes overlapping by overlap runes.
func makeChunks(text string, approx, overlap int) []string {
	if approx <= 0 {
		approx = 800
	}
	if overlap < 0 || overlap >= approx {
		overlap = approx / 2
	}
	r := []rune(strings.TrimSpace(text))
	if len(r) <= approx {
		return []string{string(r)}
	}
	var chunks []string
	for start := 0; start < len(r); {
		end := min(start+approx, len(r))
		chunks = append(chunks, string(r[start:end]))
		if end == len(r) {
			break
		}
		start = end - overlap
	}
	return chunks
}
