package session

import (
	"context"
	"sync"

	"intakebot/internal/model"
)

// Store maps a submitting user to at most one in-flight session. Every
// orchestrator transition touches exactly one key; last write wins.
type Store interface {
	Get(ctx context.Context, key string) (model.Session, bool, error)
	Set(ctx context.Context, key string, s model.Session) error
	Delete(ctx context.Context, key string) error
}

// MemoryStore keeps sessions for the lifetime of the process. Nothing
// expires; stale sessions live until overwritten, deleted by an operator or
// the process restarts.
type MemoryStore struct {
	mu    sync.Mutex
	items map[string]model.Session
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]model.Session)}
}

func (s *MemoryStore) Get(_ context.Context, key string) (model.Session, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.items[key]
	return sess, ok, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, sess model.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items[key] = sess
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.items, key)
	return nil
}

// Len is used by tests and the operator API.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}
