package cache

import (
	"context"
	"strconv"
	"sync"
	"time"
)

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

func (e *memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// MemoryStore is an in-process Store with the same atomicity and TTL
// semantics as the Redis implementation. It backs unit tests and documents
// the contract the real store must honor.
type MemoryStore struct {
	mu   sync.Mutex
	data map[string]*memoryEntry
	now  func() time.Time
}

type MemoryStoreOpts struct {
	TimeProvider func() time.Time
}

func NewMemoryStore(opts *MemoryStoreOpts) *MemoryStore {
	now := time.Now
	if opts != nil && opts.TimeProvider != nil {
		now = opts.TimeProvider
	}
	return &MemoryStore{
		data: make(map[string]*memoryEntry),
		now:  now,
	}
}

func (s *MemoryStore) get(key string) (*memoryEntry, bool) {
	entry, ok := s.data[key]
	if !ok {
		return nil, false
	}
	if entry.expired(s.now()) {
		delete(s.data, key)
		return nil, false
	}
	return entry, true
}

func (s *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.get(key)
	if !ok {
		return "", false, nil
	}
	return entry.value, true, nil
}

func (s *MemoryStore) IncrWithTTL(_ context.Context, key string, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.get(key)
	if !ok {
		s.data[key] = &memoryEntry{value: "1", expiresAt: s.now().Add(ttl)}
		return 1, nil
	}
	count, err := strconv.ParseInt(entry.value, 10, 64)
	if err != nil {
		count = 0
	}
	count++
	entry.value = strconv.FormatInt(count, 10)
	return count, nil
}

func (s *MemoryStore) SetWithTTL(_ context.Context, key string, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = &memoryEntry{value: value, expiresAt: s.now().Add(ttl)}
	return nil
}

func (s *MemoryStore) SetNX(_ context.Context, key string, value string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.get(key); ok {
		return false, nil
	}
	s.data[key] = &memoryEntry{value: value, expiresAt: s.now().Add(ttl)}
	return true, nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

func (s *MemoryStore) Exists(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.get(key)
	return ok, nil
}

func (s *MemoryStore) TTL(_ context.Context, key string) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.get(key)
	if !ok || entry.expiresAt.IsZero() {
		return 0, nil
	}
	remaining := entry.expiresAt.Sub(s.now())
	if remaining < 0 {
		return 0, nil
	}
	return remaining, nil
}
