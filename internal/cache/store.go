package cache

import (
	"context"
	"sync"
	"time"
)

// Store is the backing storage for ExpiringCache. Get returns ok=false on a
// miss or when the entry is older than the ttl it was stored with.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// MemoryStore keeps timestamped values in process memory. It is safe for
// concurrent use.
type MemoryStore struct {
	mu   sync.Mutex
	data map[string]storeEntry
	now  func() time.Time
}

type storeEntry struct {
	value    string
	storedAt time.Time
	ttl      time.Duration
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string]storeEntry),
		now:  time.Now,
	}
}

// WithClock replaces the store's time source. Intended for tests.
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
	return s
}

// Get returns the value for key while it is younger than its ttl. Stale
// entries are removed on access.
func (s *MemoryStore) Get(ctx context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.data[key]
	if !ok {
		return "", false, nil
	}
	if s.now().Sub(entry.storedAt) >= entry.ttl {
		delete(s.data, key)
		return "", false, nil
	}
	return entry.value, true, nil
}

// Set stores value stamped with the current time.
func (s *MemoryStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = storeEntry{value: value, storedAt: s.now(), ttl: ttl}
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}
