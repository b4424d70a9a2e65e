package common

import (
	"sync"
	"time"
)

type ttlEntry struct {
	value     interface{}
	expiresAt time.Time
}

// TTLMap is a thread-safe map whose entries expire individually. It backs
// the local mirrors that must keep answering when the shared store is down.
type TTLMap struct {
	mu   sync.RWMutex
	data map[string]*ttlEntry
	now  func() time.Time
}

func NewTTLMap() *TTLMap {
	return &TTLMap{
		data: make(map[string]*ttlEntry),
		now:  time.Now,
	}
}

// NewTTLMapWithClock builds a TTLMap with an injected clock for tests.
func NewTTLMapWithClock(now func() time.Time) *TTLMap {
	return &TTLMap{
		data: make(map[string]*ttlEntry),
		now:  now,
	}
}

func (m *TTLMap) Get(key string) (interface{}, bool) {
	m.mu.RLock()
	entry, exists := m.data[key]
	m.mu.RUnlock()
	if !exists {
		return nil, false
	}
	if m.now().After(entry.expiresAt) {
		m.mu.Lock()
		if current, ok := m.data[key]; ok && m.now().After(current.expiresAt) {
			delete(m.data, key)
		}
		m.mu.Unlock()
		return nil, false
	}
	return entry.value, true
}

func (m *TTLMap) Set(key string, value interface{}, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = &ttlEntry{
		value:     value,
		expiresAt: m.now().Add(ttl),
	}
}

func (m *TTLMap) Delete(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
}

func (m *TTLMap) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}
