package enforce

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/guardline/abusegate/pkg/audit"
	"github.com/guardline/abusegate/pkg/cache"
	"github.com/guardline/abusegate/pkg/config"
	"github.com/guardline/abusegate/pkg/domain/events"
	"github.com/guardline/abusegate/pkg/domain/intervention"
	"github.com/guardline/abusegate/pkg/metrics"
	"github.com/guardline/abusegate/pkg/notify"
	"github.com/guardline/abusegate/pkg/risk"
)

const (
	lockKeyPattern    = "lock:%s"
	mfaKeyPattern     = "mfa_required:%s"
	holdKeyPattern    = "hold:%s"
	monitorKeyPattern = "monitor:%s"
)

// highTierActions maps an activity kind to the enforcement applied when its
// assessment lands in the high tier.
var highTierActions = map[string][]intervention.Action{
	events.TypeMultipleFailedLogins:   {intervention.ActionLock, intervention.ActionMFARequired, intervention.ActionAlert},
	events.TypeUnusualPaymentAmounts:  {intervention.ActionPaymentHold, intervention.ActionManualReview, intervention.ActionAlert},
	events.TypeExcessiveLoginAttempts: {intervention.ActionMFARequired, intervention.ActionAlert},
}

var defaultHighActions = []intervention.Action{intervention.ActionManualReview, intervention.ActionAlert}

// Outcome reports which actions this call actually applied. Actions already
// in force are not repeated here.
type Outcome struct {
	Actions []intervention.Action
}

// Flags is the actor's current standing enforcement state, surfaced to the
// request path as response headers.
type Flags struct {
	MFARequired bool
	Monitored   bool
	PaymentHold bool
}

type EnforcerOpts struct {
	TimeProvider func() time.Time
}

// Enforcer turns threat assessments into enforcement state. Flags live in
// the shared store under TTL and are created with set-if-absent, so
// re-assessing the same actor never extends an existing lock and never
// duplicates its intervention record. Enforcement only ever escalates: a
// later, calmer assessment does not release anything.
type Enforcer struct {
	store         cache.Store
	interventions intervention.Repository
	sink          *audit.Sink
	notifier      notify.Notifier
	logger        *logrus.Logger
	cfg           config.RiskConfig
	timeProvider  func() time.Time
}

func NewEnforcer(
	store cache.Store,
	interventions intervention.Repository,
	sink *audit.Sink,
	notifier notify.Notifier,
	logger *logrus.Logger,
	cfg config.RiskConfig,
	opts *EnforcerOpts,
) *Enforcer {
	timeProvider := time.Now
	if opts != nil && opts.TimeProvider != nil {
		timeProvider = opts.TimeProvider
	}
	return &Enforcer{
		store:         store,
		interventions: interventions,
		sink:          sink,
		notifier:      notifier,
		logger:        logger,
		cfg:           cfg,
		timeProvider:  timeProvider,
	}
}

// Enforce applies the tier policy for one assessment.
func (e *Enforcer) Enforce(ctx context.Context, assessment risk.ThreatAssessment) (Outcome, error) {
	switch assessment.Tier {
	case risk.TierHigh:
		actions, ok := highTierActions[assessment.ActivityType]
		if !ok {
			actions = defaultHighActions
		}
		return e.apply(ctx, assessment, actions)
	case risk.TierMedium:
		return e.apply(ctx, assessment, []intervention.Action{intervention.ActionMonitor})
	default:
		e.logger.WithFields(logrus.Fields{
			"actor_id":   assessment.ActorID,
			"risk_score": assessment.RiskScore,
		}).Debug("low risk, no enforcement")
		return Outcome{}, nil
	}
}

func (e *Enforcer) apply(ctx context.Context, assessment risk.ThreatAssessment, actions []intervention.Action) (Outcome, error) {
	flagTTL := time.Duration(e.cfg.LockSeconds) * time.Second

	// Stateful actions decide whether this assessment changes anything.
	// When every flag it would set is already in force, the advisory
	// actions (alert, manual review) are not repeated either.
	var stateful, advisory []intervention.Action
	for _, action := range actions {
		if isStateful(action) {
			stateful = append(stateful, action)
		} else {
			advisory = append(advisory, action)
		}
	}

	var applied []intervention.Action
	for _, action := range stateful {
		ok, err := e.applyAction(ctx, assessment, action, flagTTL)
		if err != nil {
			metrics.StoreFailuresTotal.WithLabelValues("enforce").Inc()
			e.logger.WithError(err).WithFields(logrus.Fields{
				"actor_id": assessment.ActorID,
				"action":   action,
			}).Error("enforcement action failed")
			continue
		}
		if ok {
			applied = append(applied, action)
		}
	}
	if len(stateful) > 0 && len(applied) == 0 {
		return Outcome{}, nil
	}
	applied = append(applied, advisory...)

	if len(applied) == 0 {
		return Outcome{}, nil
	}

	record := &intervention.Intervention{
		ActorID:      assessment.ActorID,
		ActivityType: assessment.ActivityType,
		Actions:      actionStrings(applied),
		RiskScore:    assessment.RiskScore,
		CreatedAt:    e.timeProvider(),
	}
	if err := e.interventions.Save(ctx, record); err != nil {
		e.logger.WithError(err).WithField("actor_id", assessment.ActorID).Error("failed to record intervention")
	}

	if containsAction(applied, intervention.ActionAlert) {
		alert := notify.Alert{
			ActorID:      assessment.ActorID,
			ActivityType: assessment.ActivityType,
			RiskScore:    assessment.RiskScore,
			Actions:      actionStrings(applied),
			OccurredAt:   e.timeProvider(),
		}
		if err := e.notifier.Notify(ctx, alert); err != nil {
			e.logger.WithError(err).WithField("actor_id", assessment.ActorID).Error("failed to deliver alert")
		}
	}

	return Outcome{Actions: applied}, nil
}

// applyAction reports whether the action took effect now. A flag that is
// already set leaves the original expiry untouched and is not re-recorded.
func (e *Enforcer) applyAction(ctx context.Context, assessment risk.ThreatAssessment, action intervention.Action, ttl time.Duration) (bool, error) {
	switch action {
	case intervention.ActionLock:
		created, err := e.store.SetNX(ctx, fmt.Sprintf(lockKeyPattern, assessment.ActorID), assessment.ActivityType, ttl)
		if err != nil || !created {
			return false, err
		}
		e.sink.Append(ctx, &events.SecurityEvent{
			EventType: events.TypeAccountLocked,
			UserID:    assessment.ActorID,
			Details: events.JSONMap{
				"activity_type": assessment.ActivityType,
				"risk_score":    assessment.RiskScore,
				"lock_seconds":  e.cfg.LockSeconds,
			},
		})
		return true, nil
	case intervention.ActionMFARequired:
		return e.store.SetNX(ctx, fmt.Sprintf(mfaKeyPattern, assessment.ActorID), assessment.ActivityType, ttl)
	case intervention.ActionPaymentHold:
		return e.store.SetNX(ctx, fmt.Sprintf(holdKeyPattern, assessment.ActorID), assessment.ActivityType, ttl)
	case intervention.ActionMonitor:
		return e.store.SetNX(ctx, fmt.Sprintf(monitorKeyPattern, assessment.ActorID), assessment.ActivityType, ttl)
	default:
		return false, fmt.Errorf("unknown enforcement action %q", action)
	}
}

func isStateful(action intervention.Action) bool {
	switch action {
	case intervention.ActionLock, intervention.ActionMFARequired,
		intervention.ActionPaymentHold, intervention.ActionMonitor:
		return true
	default:
		return false
	}
}

// IsLocked reports whether the actor currently carries a lock flag. A store
// failure fails open: availability over lockout when the flag cannot be
// read.
func (e *Enforcer) IsLocked(ctx context.Context, actorID string) bool {
	_, found, err := e.store.Get(ctx, fmt.Sprintf(lockKeyPattern, actorID))
	if err != nil {
		metrics.StoreFailuresTotal.WithLabelValues("enforce").Inc()
		return false
	}
	return found
}

// ActorFlags reads the actor's standing flags for response decoration.
func (e *Enforcer) ActorFlags(ctx context.Context, actorID string) Flags {
	var flags Flags
	flags.MFARequired = e.flagSet(ctx, fmt.Sprintf(mfaKeyPattern, actorID))
	flags.Monitored = e.flagSet(ctx, fmt.Sprintf(monitorKeyPattern, actorID))
	flags.PaymentHold = e.flagSet(ctx, fmt.Sprintf(holdKeyPattern, actorID))
	return flags
}

func (e *Enforcer) flagSet(ctx context.Context, key string) bool {
	exists, err := e.store.Exists(ctx, key)
	if err != nil {
		return false
	}
	return exists
}

func actionStrings(actions []intervention.Action) []string {
	out := make([]string, len(actions))
	for i, action := range actions {
		out[i] = string(action)
	}
	return out
}

func containsAction(actions []intervention.Action, want intervention.Action) bool {
	for _, action := range actions {
		if action == want {
			return true
		}
	}
	return false
}
