package worker

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/guardline/abusegate/pkg/audit"
	"github.com/guardline/abusegate/pkg/domain/events"
	"github.com/guardline/abusegate/pkg/enforce"
	"github.com/guardline/abusegate/pkg/risk"
)

// Batch aggregation thresholds. Hitting one inside a single assessment
// window upgrades the raw events to the corresponding aggregate activity.
const (
	multipleFailedLoginsThreshold = 3
	excessiveLoginsThreshold      = 10
	paymentDeviationFactor        = 3.0
)

// assessedTypes are the raw activities the worker collects. Everything
// else in the audit stream is a decision record, not actor behavior.
var assessedTypes = map[string]struct{}{
	events.TypeFailedLogin:    {},
	events.TypeGeneralLogin:   {},
	events.TypePaymentAttempt: {},
}

// Assessor batches qualifying activity off the request path and runs it
// through scoring and enforcement once per interval. The hot path only
// pays for an append to the pending map.
type Assessor struct {
	scorer   *risk.Scorer
	enforcer *enforce.Enforcer
	profiles risk.ProfileProvider
	sink     *audit.Sink
	logger   *logrus.Logger
	interval time.Duration

	mu      sync.Mutex
	pending map[string][]events.SecurityEvent
}

func NewAssessor(
	scorer *risk.Scorer,
	enforcer *enforce.Enforcer,
	profiles risk.ProfileProvider,
	sink *audit.Sink,
	logger *logrus.Logger,
	interval time.Duration,
) *Assessor {
	return &Assessor{
		scorer:   scorer,
		enforcer: enforcer,
		profiles: profiles,
		sink:     sink,
		logger:   logger,
		interval: interval,
		pending:  make(map[string][]events.SecurityEvent),
	}
}

// ObserveEvent queues qualifying actor activity for the next assessment
// pass. Registered as an audit sink observer.
func (a *Assessor) ObserveEvent(_ context.Context, event *events.SecurityEvent) {
	if event.UserID == "" {
		return
	}
	if _, ok := assessedTypes[event.EventType]; !ok {
		return
	}
	a.mu.Lock()
	a.pending[event.UserID] = append(a.pending[event.UserID], *event)
	a.mu.Unlock()
}

// Run processes pending batches every interval until ctx is canceled. The
// final drain on shutdown assesses whatever is still queued.
func (a *Assessor) Run(ctx context.Context) {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.assessPending(context.Background())
			return
		case <-ticker.C:
			a.assessPending(ctx)
		}
	}
}

func (a *Assessor) assessPending(ctx context.Context) {
	a.mu.Lock()
	batches := a.pending
	a.pending = make(map[string][]events.SecurityEvent)
	a.mu.Unlock()

	for actorID, batch := range batches {
		a.assessBatch(ctx, actorID, batch)
	}
}

// assessBatch folds one actor's window of raw events into activities and
// runs each through the scorer and the enforcement policy.
func (a *Assessor) assessBatch(ctx context.Context, actorID string, batch []events.SecurityEvent) {
	velocity := float64(len(batch)) / a.interval.Minutes()

	for _, activity := range a.activitiesFor(actorID, batch, velocity) {
		assessment := a.scorer.Assess(activity)
		a.sink.Append(ctx, &events.SecurityEvent{
			EventType: events.TypeThreatAssessed,
			UserID:    actorID,
			IP:        activity.IP,
			Details: events.JSONMap{
				"activity_type":        assessment.ActivityType,
				"risk_score":           assessment.RiskScore,
				"tier":                 string(assessment.Tier),
				"contributing_factors": assessment.ContributingFactors,
			},
		})
		if _, err := a.enforcer.Enforce(ctx, assessment); err != nil {
			a.logger.WithError(err).WithField("actor_id", actorID).Error("enforcement failed")
		}
	}
}

func (a *Assessor) activitiesFor(actorID string, batch []events.SecurityEvent, velocity float64) []risk.Activity {
	var failed, logins int
	var lastFailed, lastLogin *events.SecurityEvent
	var activities []risk.Activity

	for i := range batch {
		event := &batch[i]
		switch event.EventType {
		case events.TypeFailedLogin:
			failed++
			lastFailed = event
		case events.TypeGeneralLogin:
			logins++
			lastLogin = event
		case events.TypePaymentAttempt:
			activities = append(activities, a.paymentActivity(actorID, event, velocity))
		}
	}

	if failed >= multipleFailedLoginsThreshold {
		activities = append(activities, activityFrom(actorID, events.TypeMultipleFailedLogins, lastFailed, velocity))
	}
	switch {
	case logins >= excessiveLoginsThreshold:
		activities = append(activities, activityFrom(actorID, events.TypeExcessiveLoginAttempts, lastLogin, velocity))
	case logins > 0:
		// Deviation from the behavioral profile is what matters here, so
		// the latest login stands in for the window.
		activities = append(activities, activityFrom(actorID, events.TypeGeneralLogin, lastLogin, velocity))
	}

	return activities
}

// paymentActivity upgrades a payment far above the actor's historical
// average to the unusual-payment activity kind.
func (a *Assessor) paymentActivity(actorID string, event *events.SecurityEvent, velocity float64) risk.Activity {
	activityType := events.TypePaymentAttempt
	if amount, ok := risk.PaymentAmount(event); ok {
		if profile := a.profiles.Profile(actorID); profile != nil && profile.PaymentCount > 0 {
			if amount > profile.AvgPaymentAmount*paymentDeviationFactor {
				activityType = events.TypeUnusualPaymentAmounts
			}
		}
	}
	return activityFrom(actorID, activityType, event, velocity)
}

func activityFrom(actorID, activityType string, event *events.SecurityEvent, velocity float64) risk.Activity {
	activity := risk.Activity{
		ActorID:         actorID,
		Type:            activityType,
		EventsPerMinute: velocity,
	}
	if event != nil {
		activity.IP = event.IP
		activity.UserAgent = event.UserAgent
		activity.Timestamp = event.CreatedAt
	}
	return activity
}
