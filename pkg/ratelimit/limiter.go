package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/guardline/abusegate/pkg/audit"
	"github.com/guardline/abusegate/pkg/cache"
	"github.com/guardline/abusegate/pkg/config"
	"github.com/guardline/abusegate/pkg/domain/events"
	"github.com/guardline/abusegate/pkg/metrics"
)

const (
	counterKeyPattern = "ratelimit:%s:%s"

	// ScopeGeneral is the fallback when a request maps to no named scope.
	ScopeGeneral    = "general"
	ScopeAuth       = "auth"
	ScopeGeneration = "generation"
)

// Decision is the outcome of one rate limit check.
type Decision struct {
	Allowed      bool
	Scope        string
	Limit        int
	Remaining    int
	RetryAfterMs int64
}

// Limiter enforces fixed-window request quotas per (identity, scope) pair.
// The window counter lives in the shared store so concurrent instances see
// the same count; the increment is atomic, never read-then-write. All
// window timing rides on the counter key's TTL, the limiter holds no clock
// of its own.
//
// The limiter fails open: it sits on the hot path of every request, so
// when the store is unreachable availability wins over strict enforcement
// and the failure is recorded in the audit trail instead.
type Limiter struct {
	store  cache.Store
	sink   *audit.Sink
	logger *logrus.Logger
	scopes map[string]config.ScopeLimit
}

func NewLimiter(
	store cache.Store,
	sink *audit.Sink,
	logger *logrus.Logger,
	scopes map[string]config.ScopeLimit,
) *Limiter {
	return &Limiter{
		store:  store,
		sink:   sink,
		logger: logger,
		scopes: scopes,
	}
}

// Allow counts this request against the (identity, scope) window and
// decides whether it may proceed.
func (l *Limiter) Allow(ctx context.Context, identity, scope string) Decision {
	limit, ok := l.scopes[scope]
	if !ok {
		scope = ScopeGeneral
		limit = l.scopes[scope]
	}
	window := time.Duration(limit.WindowSeconds) * time.Second
	key := fmt.Sprintf(counterKeyPattern, identity, scope)

	count, err := l.store.IncrWithTTL(ctx, key, window)
	if err != nil {
		metrics.StoreFailuresTotal.WithLabelValues("rate_limiter").Inc()
		l.logger.WithError(err).WithFields(logrus.Fields{
			"identity": identity,
			"scope":    scope,
		}).Warn("counter store unreachable, rate limiter failing open")
		l.sink.Append(ctx, &events.SecurityEvent{
			UserID:    identity,
			EventType: events.TypeRateLimiterUnavailable,
			Details: events.JSONMap{
				"scope": scope,
				"error": err.Error(),
			},
		})
		return Decision{Allowed: true, Scope: scope, Limit: limit.Limit, Remaining: limit.Limit}
	}

	if count <= int64(limit.Limit) {
		metrics.DecisionsTotal.WithLabelValues("rate_limiter", "allowed").Inc()
		return Decision{
			Allowed:   true,
			Scope:     scope,
			Limit:     limit.Limit,
			Remaining: limit.Limit - int(count),
		}
	}

	retryAfter := l.retryAfter(ctx, key, window)
	metrics.DecisionsTotal.WithLabelValues("rate_limiter", "denied").Inc()
	l.sink.Append(ctx, &events.SecurityEvent{
		UserID:    identity,
		EventType: events.TypeRateLimitExceeded,
		Details: events.JSONMap{
			"scope":          scope,
			"limit":          limit.Limit,
			"window_seconds": limit.WindowSeconds,
			"retry_after_ms": retryAfter.Milliseconds(),
		},
	})

	return Decision{
		Allowed:      false,
		Scope:        scope,
		Limit:        limit.Limit,
		Remaining:    0,
		RetryAfterMs: retryAfter.Milliseconds(),
	}
}

// retryAfter reads the remaining window from the counter key's TTL. When
// the TTL cannot be read the full window is reported, which only ever
// overestimates the wait.
func (l *Limiter) retryAfter(ctx context.Context, key string, window time.Duration) time.Duration {
	ttl, err := l.store.TTL(ctx, key)
	if err != nil || ttl <= 0 {
		return window
	}
	return ttl
}
