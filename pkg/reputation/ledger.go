package reputation

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/guardline/abusegate/pkg/audit"
	"github.com/guardline/abusegate/pkg/cache"
	"github.com/guardline/abusegate/pkg/common"
	"github.com/guardline/abusegate/pkg/config"
	"github.com/guardline/abusegate/pkg/domain/events"
	"github.com/guardline/abusegate/pkg/metrics"
)

// Reason classifies why an IP was blocked.
type Reason string

const (
	ReasonFailedLogins      Reason = "failed_logins"
	ReasonExcessiveRequests Reason = "excessive_requests"
	ReasonDDoS              Reason = "ddos"
	ReasonManual            Reason = "manual"
)

const (
	blockKeyPattern     = "block:ip:%s"
	ddosKeyPattern      = "reqrate:%s"
	failLoginKeyPattern = "failcount:%s"
	excessiveKeyPattern = "reqcount:%s"
)

type LedgerOpts struct {
	TimeProvider func() time.Time
}

// Ledger owns the IP block list. Block flags live in the shared store and
// expire via TTL; a local mirror keeps the most recently seen entries so
// known blocks still deny when the store is unreachable (fail closed for
// known entries, fail open for decisions that cannot be durably recorded).
type Ledger struct {
	store        cache.Store
	sink         *audit.Sink
	logger       *logrus.Logger
	cfg          config.BlockingConfig
	mirror       *common.TTLMap
	timeProvider func() time.Time
}

func NewLedger(
	store cache.Store,
	sink *audit.Sink,
	logger *logrus.Logger,
	cfg config.BlockingConfig,
	opts *LedgerOpts,
) *Ledger {
	timeProvider := time.Now
	if opts != nil && opts.TimeProvider != nil {
		timeProvider = opts.TimeProvider
	}
	return &Ledger{
		store:        store,
		sink:         sink,
		logger:       logger,
		cfg:          cfg,
		mirror:       common.NewTTLMapWithClock(timeProvider),
		timeProvider: timeProvider,
	}
}

// IsBlocked reports whether ip currently carries a block flag. A positive
// answer is itself recorded in the audit trail.
func (l *Ledger) IsBlocked(ctx context.Context, ip string) bool {
	key := fmt.Sprintf(blockKeyPattern, ip)
	reason, found, err := l.store.Get(ctx, key)
	if err != nil {
		metrics.StoreFailuresTotal.WithLabelValues("reputation").Inc()
		// The store is down: deny only what the local mirror still knows.
		if cached, ok := l.mirror.Get(ip); ok {
			l.recordDenied(ctx, ip, cached.(Reason))
			return true
		}
		return false
	}
	if !found {
		l.mirror.Delete(ip)
		return false
	}

	l.mirror.Set(ip, Reason(reason), common.BlockMirrorTTL)
	l.recordDenied(ctx, ip, Reason(reason))
	return true
}

// Block creates a block flag for ip. Re-blocking an already blocked IP is
// a no-op: the original expiry stands and no duplicate event is recorded.
func (l *Ledger) Block(ctx context.Context, ip string, reason Reason, duration time.Duration) error {
	key := fmt.Sprintf(blockKeyPattern, ip)
	created, err := l.store.SetNX(ctx, key, string(reason), duration)
	if err != nil {
		metrics.StoreFailuresTotal.WithLabelValues("reputation").Inc()
		l.logger.WithError(err).WithField("ip", ip).Warn("cannot durably record block, failing open")
		return err
	}
	if !created {
		return nil
	}

	l.mirror.Set(ip, reason, common.BlockMirrorTTL)
	metrics.BlocksTotal.WithLabelValues(string(reason)).Inc()
	l.sink.Append(ctx, &events.SecurityEvent{
		EventType: events.TypeIPBlocked,
		IP:        ip,
		Details: events.JSONMap{
			"reason":           string(reason),
			"duration_seconds": int(duration.Seconds()),
		},
	})
	return nil
}

// ObserveEvent runs the abuse detectors as a side effect of event logging.
// Each qualifying event increments its window counter and checks the
// threshold inline; there is no separate poll loop.
func (l *Ledger) ObserveEvent(ctx context.Context, event *events.SecurityEvent) {
	if event.IP == "" {
		return
	}

	switch event.EventType {
	case events.TypeRequest:
		l.checkCounter(ctx, fmt.Sprintf(ddosKeyPattern, event.IP), event.IP,
			l.cfg.DDoSWindowSeconds, l.cfg.DDoSThreshold, ReasonDDoS, l.cfg.DDoSBlockSeconds)
		l.checkCounter(ctx, fmt.Sprintf(excessiveKeyPattern, event.IP), event.IP,
			l.cfg.ExcessiveWindowSeconds, l.cfg.ExcessiveThreshold, ReasonExcessiveRequests, l.cfg.ExcessiveBlockSeconds)
	case events.TypeFailedLogin:
		l.checkCounter(ctx, fmt.Sprintf(failLoginKeyPattern, event.IP), event.IP,
			l.cfg.FailedLoginWindow, l.cfg.FailedLoginThreshold, ReasonFailedLogins, l.cfg.FailedLoginBlock)
	}
}

func (l *Ledger) checkCounter(
	ctx context.Context,
	key string,
	ip string,
	windowSeconds int,
	threshold int,
	reason Reason,
	blockSeconds int,
) {
	count, err := l.store.IncrWithTTL(ctx, key, time.Duration(windowSeconds)*time.Second)
	if err != nil {
		metrics.StoreFailuresTotal.WithLabelValues("reputation").Inc()
		return
	}
	if count >= int64(threshold) {
		if err := l.Block(ctx, ip, reason, time.Duration(blockSeconds)*time.Second); err != nil {
			l.logger.WithError(err).WithFields(logrus.Fields{
				"ip":     ip,
				"reason": reason,
			}).Error("detector failed to create block")
		}
	}
}

func (l *Ledger) recordDenied(ctx context.Context, ip string, reason Reason) {
	metrics.DecisionsTotal.WithLabelValues("reputation", "denied").Inc()
	l.sink.Append(ctx, &events.SecurityEvent{
		EventType: events.TypeBlockedRequestDenied,
		IP:        ip,
		Details: events.JSONMap{
			"reason": string(reason),
		},
	})
}
