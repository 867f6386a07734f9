package provider

import (
	"context"
	"sync"
	"time"
)

// ResultStore keeps the results of synchronous generations under their
// handle until the worker fetches them.
type ResultStore interface {
	Put(ctx context.Context, handle string, payload []byte, ttl time.Duration) error
	Get(ctx context.Context, handle string) ([]byte, error)
	Delete(ctx context.Context, handle string) error
}

type memoryResult struct {
	payload   []byte
	expiresAt time.Time
}

// MemoryResultStore is a ResultStore for single-process deployments.
type MemoryResultStore struct {
	mu    sync.Mutex
	items map[string]memoryResult
	now   func() time.Time
}

func NewMemoryResultStore() *MemoryResultStore {
	return &MemoryResultStore{items: make(map[string]memoryResult), now: time.Now}
}

func (s *MemoryResultStore) Put(_ context.Context, handle string, payload []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for k, v := range s.items {
		if !v.expiresAt.IsZero() && now.After(v.expiresAt) {
			delete(s.items, k)
		}
	}
	r := memoryResult{payload: append([]byte(nil), payload...)}
	if ttl > 0 {
		r.expiresAt = now.Add(ttl)
	}
	s.items[handle] = r
	return nil
}

func (s *MemoryResultStore) Get(_ context.Context, handle string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.items[handle]
	if !ok {
		return nil, ErrUnknownHandle
	}
	if !r.expiresAt.IsZero() && s.now().After(r.expiresAt) {
		delete(s.items, handle)
		return nil, ErrUnknownHandle
	}
	return r.payload, nil
}

func (s *MemoryResultStore) Delete(_ context.Context, handle string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, handle)
	return nil
}
