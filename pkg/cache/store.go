package cache

import (
	"context"
	"errors"
	"time"
)

// ErrStoreUnavailable wraps transient counter-store failures. Components
// decide per contract whether to fail open or closed when they see it.
var ErrStoreUnavailable = errors.New("counter store unavailable")

// Store is the shared key-value counter store used for all cross-request
// counters and block flags. It is injected into every component so tests
// can substitute the in-memory implementation.
type Store interface {
	// Get returns the value for key, with found=false when the key is absent.
	Get(ctx context.Context, key string) (value string, found bool, err error)
	// IncrWithTTL atomically increments key and applies ttl only when the
	// increment created the key, so a fixed window keeps its original expiry.
	IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)
	// SetWithTTL stores value under key with the given expiry.
	SetWithTTL(ctx context.Context, key string, value string, ttl time.Duration) error
	// SetNX stores value only when key is absent. Returns true when stored.
	SetNX(ctx context.Context, key string, value string, ttl time.Duration) (bool, error)
	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
	// Exists reports whether key is present.
	Exists(ctx context.Context, key string) (bool, error)
	// TTL returns the remaining lifetime of key, zero when absent.
	TTL(ctx context.Context, key string) (time.Duration, error)
}

// IsUnavailable reports whether err is a transient store failure.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}
