package session

import (
	"context"
	"time"

	"github.com/mohammad-safakhou/podcaster/tools/vector_store/models"
)

// Store interface for session management
type Store interface {
	// EnsureSession returns the session with id, creating it when missing.
	// An empty id creates a session with a fresh id.
	EnsureSession(ctx context.Context, id string, ttl time.Duration) (Session, error)
	// GetSession returns nil, nil when the session does not exist.
	GetSession(ctx context.Context, id string) (Session, error)
}

// Session is a hybrid index safe for concurrent use. Chunks are appended
// and only leave the index a whole source at a time.
type Session interface {
	ID() string
	Expire(ctx context.Context, ttl time.Duration) error
	AddChunk(ctx context.Context, chunk models.Chunk, vec []float32) error
	Chunks(ctx context.Context) ([]models.Chunk, error)
	// RemoveSource deletes the chunks of one source and reports how many went.
	RemoveSource(ctx context.Context, source string) (int, error)
	// Search runs BM25 and, when qvec is non-empty, cosine similarity, fusing both with RRF.
	Search(ctx context.Context, q string, qvec []float32, k int) ([]models.Hit, error)
}
