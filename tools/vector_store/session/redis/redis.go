package redis_session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/mohammad-safakhou/podcaster/tools/vector_store/models"
	"github.com/mohammad-safakhou/podcaster/tools/vector_store/session"
)

// Store keeps chunks and their vectors in redis so a reference library
// survives restarts; the BM25 index is rebuilt in process on first use.
type Store struct {
	client *redis.Client

	mu     sync.Mutex
	loaded map[string]*Session
}

func NewRedisSessionStore(addr, password string, db int) session.Store {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return NewStore(rdb)
}

func NewStore(client *redis.Client) *Store {
	return &Store{client: client, loaded: make(map[string]*Session)}
}

func metaKey(id string) string   { return fmt.Sprintf("session:%s:meta", id) }
func chunksKey(id string) string { return fmt.Sprintf("session:%s:chunks", id) }

type storedChunk struct {
	Chunk models.Chunk `json:"chunk"`
	Vec   []float32    `json:"vec,omitempty"`
}

func (store *Store) EnsureSession(ctx context.Context, id string, ttl time.Duration) (session.Session, error) {
	if id == "" {
		id = uuid.NewString()
	}
	meta, _ := json.Marshal(map[string]any{"created_at": time.Now().UTC()})
	if err := store.client.SetNX(ctx, metaKey(id), meta, ttl).Err(); err != nil {
		return nil, fmt.Errorf("ensure session %s: %w", id, err)
	}
	sess := store.session(id)
	if err := sess.Expire(ctx, ttl); err != nil {
		return nil, err
	}
	return sess, nil
}

func (store *Store) GetSession(ctx context.Context, id string) (session.Session, error) {
	exists, err := store.client.Exists(ctx, metaKey(id)).Result()
	if err != nil {
		return nil, err
	}
	if exists == 0 {
		return nil, nil
	}
	return store.session(id), nil
}

func (store *Store) session(id string) *Session {
	store.mu.Lock()
	defer store.mu.Unlock()
	if s, ok := store.loaded[id]; ok {
		return s
	}
	s := &Session{client: store.client, id: id}
	store.loaded[id] = s
	return s
}

type Session struct {
	client *redis.Client
	id     string

	mu    sync.Mutex
	index *session.Index
}

func (s *Session) ID() string { return s.id }

func (s *Session) Expire(ctx context.Context, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	pipe := s.client.TxPipeline()
	pipe.Expire(ctx, metaKey(s.id), ttl)
	pipe.Expire(ctx, chunksKey(s.id), ttl)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *Session) AddChunk(ctx context.Context, chunk models.Chunk, vec []float32) error {
	data, err := json.Marshal(storedChunk{Chunk: chunk, Vec: vec})
	if err != nil {
		return err
	}
	if err := s.client.HSetNX(ctx, chunksKey(s.id), chunk.ID, data).Err(); err != nil {
		return err
	}
	ttl, err := s.client.TTL(ctx, metaKey(s.id)).Result()
	if err == nil && ttl > 0 {
		_ = s.client.Expire(ctx, chunksKey(s.id), ttl).Err()
	}
	index, err := s.sync(ctx)
	if err != nil {
		return err
	}
	return index.Add(chunk, vec)
}

func (s *Session) Chunks(ctx context.Context) ([]models.Chunk, error) {
	index, err := s.sync(ctx)
	if err != nil {
		return nil, err
	}
	return index.Chunks(), nil
}

// RemoveSource deletes the source's chunks from redis and the local index.
// Other processes keep serving them until their next rebuild.
func (s *Session) RemoveSource(ctx context.Context, source string) (int, error) {
	index, err := s.sync(ctx)
	if err != nil {
		return 0, err
	}
	var ids []string
	for _, c := range index.Chunks() {
		if c.Source == source {
			ids = append(ids, c.ID)
		}
	}
	if len(ids) == 0 {
		return 0, nil
	}
	if err := s.client.HDel(ctx, chunksKey(s.id), ids...).Err(); err != nil {
		return 0, fmt.Errorf("remove source %s: %w", source, err)
	}
	removed, err := index.RemoveSource(source)
	return len(removed), err
}

func (s *Session) Search(ctx context.Context, q string, qvec []float32, k int) ([]models.Hit, error) {
	index, err := s.sync(ctx)
	if err != nil {
		return nil, err
	}
	return index.Search(q, qvec, k)
}

// sync rebuilds the local index when redis holds chunks it has not seen,
// e.g. ones written by another process.
func (s *Session) sync(ctx context.Context) (*session.Index, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, err := s.client.HLen(ctx, chunksKey(s.id)).Result()
	if err != nil {
		return nil, err
	}
	if s.index != nil && int64(s.index.Len()) >= n {
		return s.index, nil
	}
	raw, err := s.client.HGetAll(ctx, chunksKey(s.id)).Result()
	if err != nil {
		return nil, err
	}
	index := s.index
	if index == nil {
		if index, err = session.NewIndex(); err != nil {
			return nil, err
		}
	}
	for _, v := range raw {
		var sc storedChunk
		if err := json.Unmarshal([]byte(v), &sc); err != nil {
			continue
		}
		if err := index.Add(sc.Chunk, sc.Vec); err != nil {
			return nil, err
		}
	}
	s.index = index
	return index, nil
}
