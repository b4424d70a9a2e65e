package risk

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/guardline/abusegate/pkg/domain/events"
)

// profileWindow is the trailing slice of history a profile summarizes.
const profileWindow = 24 * time.Hour

// trustedEventTypes are the activities that define "normal" for an actor.
// Failures and enforcement records must never teach the profile that an
// attacker's IP or device is expected.
var trustedEventTypes = map[string]struct{}{
	events.TypeGeneralLogin:   {},
	events.TypeRequest:        {},
	events.TypePaymentAttempt: {},
}

type BuilderOpts struct {
	TimeProvider func() time.Time
}

// ProfileBuilder maintains per-actor behavioral profiles rebuilt from the
// audit trail. Each rebuild assembles the new profile aside and swaps it in
// whole, so readers always see either the previous or the new profile,
// never a half-built one.
type ProfileBuilder struct {
	repo         events.Repository
	logger       *logrus.Logger
	profiles     sync.Map // actor id -> *BehavioralProfile
	timeProvider func() time.Time
}

func NewProfileBuilder(repo events.Repository, logger *logrus.Logger, opts *BuilderOpts) *ProfileBuilder {
	timeProvider := time.Now
	if opts != nil && opts.TimeProvider != nil {
		timeProvider = opts.TimeProvider
	}
	return &ProfileBuilder{
		repo:         repo,
		logger:       logger,
		timeProvider: timeProvider,
	}
}

// Profile returns the current profile for actorID, or nil when the actor
// has no history yet (cold start).
func (b *ProfileBuilder) Profile(actorID string) *BehavioralProfile {
	value, ok := b.profiles.Load(actorID)
	if !ok {
		return nil
	}
	return value.(*BehavioralProfile)
}

// RebuildActor recomputes one actor's profile from the trailing window and
// swaps it in. An actor whose window holds no trusted activity keeps no
// profile at all.
func (b *ProfileBuilder) RebuildActor(ctx context.Context, actorID string) (*BehavioralProfile, error) {
	now := b.timeProvider()
	history, err := b.repo.ListSince(ctx, actorID, now.Add(-profileWindow))
	if err != nil {
		return nil, err
	}

	profile := newProfile(actorID)
	profile.LastBuilt = now
	observed := false
	paymentTotal := 0.0
	for i := range history {
		event := &history[i]
		profile.ActivityCounts[event.EventType]++
		if _, trusted := trustedEventTypes[event.EventType]; !trusted {
			continue
		}
		observed = true
		profile.NormalLoginHours[event.CreatedAt.Hour()] = struct{}{}
		if event.IP != "" {
			profile.NormalIPs[event.IP] = struct{}{}
		}
		if device := DeviceFingerprint(event.UserAgent); device != "" {
			profile.NormalDevices[device] = struct{}{}
		}
		if event.EventType == events.TypePaymentAttempt {
			if amount, ok := PaymentAmount(event); ok {
				paymentTotal += amount
				profile.PaymentCount++
			}
		}
	}
	if profile.PaymentCount > 0 {
		profile.AvgPaymentAmount = paymentTotal / float64(profile.PaymentCount)
	}

	if !observed {
		b.profiles.Delete(actorID)
		return nil, nil
	}
	b.profiles.Store(actorID, profile)
	return profile, nil
}

// RebuildAll refreshes every actor active inside the window. A failure on
// one actor is logged and skipped so a single bad row cannot starve the
// rest of the rebuild.
func (b *ProfileBuilder) RebuildAll(ctx context.Context) error {
	actors, err := b.repo.ActiveActors(ctx, b.timeProvider().Add(-profileWindow))
	if err != nil {
		return err
	}
	for _, actorID := range actors {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := b.RebuildActor(ctx, actorID); err != nil {
			b.logger.WithError(err).WithField("actor_id", actorID).Error("profile rebuild failed")
		}
	}
	return nil
}

// PaymentAmount extracts the amount carried in a payment event's details.
func PaymentAmount(event *events.SecurityEvent) (float64, bool) {
	raw, ok := event.Details["amount"]
	if !ok {
		return 0, false
	}
	switch v := raw.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

// Run rebuilds all profiles on a fixed interval until ctx is canceled.
func (b *ProfileBuilder) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := b.RebuildAll(ctx); err != nil && ctx.Err() == nil {
				b.logger.WithError(err).Error("scheduled profile rebuild failed")
			}
		}
	}
}
