package audit

import (
	"sync"

	"github.com/guardline/abusegate/pkg/domain/events"
)

// ring is a bounded buffer of the most recent events, serving live threat
// queries without touching the durable log.
type ring struct {
	mu     sync.RWMutex
	buf    []events.SecurityEvent
	next   int
	filled bool
}

func newRing(size int) *ring {
	if size <= 0 {
		size = 1
	}
	return &ring{
		buf: make([]events.SecurityEvent, size),
	}
}

func (r *ring) add(event events.SecurityEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf[r.next] = event
	r.next++
	if r.next == len(r.buf) {
		r.next = 0
		r.filled = true
	}
}

// snapshot returns up to n events, newest first.
func (r *ring) snapshot(n int) []events.SecurityEvent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	size := r.next
	if r.filled {
		size = len(r.buf)
	}
	if n <= 0 || n > size {
		n = size
	}

	result := make([]events.SecurityEvent, 0, n)
	idx := r.next - 1
	for i := 0; i < n; i++ {
		if idx < 0 {
			idx = len(r.buf) - 1
		}
		result = append(result, r.buf[idx])
		idx--
	}
	return result
}
