package inmemory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mohammad-safakhou/podcaster/tools/vector_store/models"
	"github.com/mohammad-safakhou/podcaster/tools/vector_store/session"
)

type Store struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

func NewInMemorySessionStore() session.Store {
	return &Store{sessions: make(map[string]*Session)}
}

func (s *Store) EnsureSession(ctx context.Context, id string, ttl time.Duration) (session.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id != "" {
		if sess, ok := s.sessions[id]; ok && !sess.expired() {
			sess.touch(ttl)
			return sess, nil
		}
	} else {
		id = uuid.NewString()
	}
	index, err := session.NewIndex()
	if err != nil {
		return nil, err
	}
	sess := &Session{id: id, index: index}
	sess.touch(ttl)
	s.sessions[id] = sess
	return sess, nil
}

func (s *Store) GetSession(ctx context.Context, id string) (session.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok || sess.expired() {
		delete(s.sessions, id)
		return nil, nil
	}
	return sess, nil
}

type Session struct {
	id        string
	index     *session.Index
	mu        sync.Mutex
	expiresAt time.Time
}

func (s *Session) ID() string { return s.id }

func (s *Session) touch(ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ttl <= 0 {
		s.expiresAt = time.Time{}
		return
	}
	s.expiresAt = time.Now().Add(ttl)
}

func (s *Session) expired() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.expiresAt.IsZero() && time.Now().After(s.expiresAt)
}

func (s *Session) Expire(ctx context.Context, ttl time.Duration) error {
	s.touch(ttl)
	return nil
}

func (s *Session) AddChunk(ctx context.Context, chunk models.Chunk, vec []float32) error {
	return s.index.Add(chunk, vec)
}

func (s *Session) Chunks(ctx context.Context) ([]models.Chunk, error) {
	return s.index.Chunks(), nil
}

func (s *Session) RemoveSource(ctx context.Context, source string) (int, error) {
	ids, err := s.index.RemoveSource(source)
	return len(ids), err
}

func (s *Session) Search(ctx context.Context, q string, qvec []float32, k int) ([]models.Hit, error) {
	return s.index.Search(q, qvec, k)
}
