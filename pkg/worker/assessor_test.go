package worker

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guardline/abusegate/pkg/audit"
	"github.com/guardline/abusegate/pkg/cache"
	"github.com/guardline/abusegate/pkg/config"
	"github.com/guardline/abusegate/pkg/domain/events"
	"github.com/guardline/abusegate/pkg/domain/intervention"
	"github.com/guardline/abusegate/pkg/enforce"
	"github.com/guardline/abusegate/pkg/notify"
	"github.com/guardline/abusegate/pkg/risk"
)

type nullEventRepo struct{}

func (nullEventRepo) Save(context.Context, *events.SecurityEvent) error { return nil }
func (nullEventRepo) Query(context.Context, events.Filter, int) ([]events.SecurityEvent, error) {
	return nil, nil
}
func (nullEventRepo) ListSince(context.Context, string, time.Time) ([]events.SecurityEvent, error) {
	return nil, nil
}
func (nullEventRepo) ActiveActors(context.Context, time.Time) ([]string, error) { return nil, nil }

type recordingInterventionRepo struct {
	saved []intervention.Intervention
}

func (r *recordingInterventionRepo) Save(_ context.Context, iv *intervention.Intervention) error {
	r.saved = append(r.saved, *iv)
	return nil
}

func (r *recordingInterventionRepo) ListByActor(context.Context, string, int) ([]intervention.Intervention, error) {
	return nil, nil
}

type staticProfiles map[string]*risk.BehavioralProfile

func (p staticProfiles) Profile(actorID string) *risk.BehavioralProfile {
	return p[actorID]
}

type pipeline struct {
	assessor      *Assessor
	enforcer      *enforce.Enforcer
	sink          *audit.Sink
	interventions *recordingInterventionRepo
}

func newPipeline(profiles staticProfiles) *pipeline {
	logger := logrus.New()
	store := cache.NewMemoryStore(nil)
	sink := audit.NewSink(logger, nullEventRepo{}, config.AuditConfig{RecentBufferSize: 128, QueueSize: 256}, nil)
	interventions := &recordingInterventionRepo{}
	riskCfg := config.RiskConfig{HighThreshold: 0.7, MediumThreshold: 0.4, VelocityPerMinute: 10, LockSeconds: 3600}

	scorer := risk.NewScorer(profiles, logger, riskCfg, nil)
	enforcer := enforce.NewEnforcer(store, interventions, sink, notify.NewLogNotifier(logger), logger, riskCfg, nil)
	assessor := NewAssessor(scorer, enforcer, profiles, sink, logger, time.Minute)
	sink.Subscribe(assessor.ObserveEvent)

	return &pipeline{assessor: assessor, enforcer: enforcer, sink: sink, interventions: interventions}
}

func daytime() time.Time {
	return time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)
}

func TestAssessor_RepeatedFailedLoginsLockTheAccount(t *testing.T) {
	p := newPipeline(staticProfiles{})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		p.sink.Append(ctx, &events.SecurityEvent{
			EventType: events.TypeFailedLogin,
			UserID:    "user-1",
			IP:        "203.0.113.5",
			CreatedAt: daytime(),
		})
	}
	p.assessor.assessPending(ctx)

	assert.True(t, p.enforcer.IsLocked(ctx, "user-1"))
	require.Len(t, p.interventions.saved, 1)
	assert.Equal(t, events.TypeMultipleFailedLogins, p.interventions.saved[0].ActivityType)

	var assessed *events.SecurityEvent
	for _, event := range p.sink.Recent(16) {
		if event.EventType == events.TypeThreatAssessed {
			assessed = &event
			break
		}
	}
	require.NotNil(t, assessed)
	assert.Equal(t, "user-1", assessed.UserID)
	assert.Equal(t, "high", assessed.Details["tier"])
}

func TestAssessor_TwoFailedLoginsAreNotAnAggregate(t *testing.T) {
	p := newPipeline(staticProfiles{})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		p.sink.Append(ctx, &events.SecurityEvent{
			EventType: events.TypeFailedLogin,
			UserID:    "user-2",
			IP:        "203.0.113.5",
			CreatedAt: daytime(),
		})
	}
	p.assessor.assessPending(ctx)

	assert.False(t, p.enforcer.IsLocked(ctx, "user-2"))
	assert.Empty(t, p.interventions.saved)
}

func TestAssessor_DeviantLoginTriggersReview(t *testing.T) {
	profiles := staticProfiles{
		"user-3": {
			ActorID:          "user-3",
			NormalLoginHours: map[int]struct{}{9: {}, 10: {}},
			NormalIPs:        map[string]struct{}{"203.0.113.1": {}},
			NormalDevices:    map[string]struct{}{},
		},
	}
	p := newPipeline(profiles)
	ctx := context.Background()

	p.sink.Append(ctx, &events.SecurityEvent{
		EventType: events.TypeGeneralLogin,
		UserID:    "user-3",
		IP:        "198.51.100.20",
		CreatedAt: time.Date(2026, 3, 10, 2, 0, 0, 0, time.UTC),
	})
	p.assessor.assessPending(ctx)

	require.Len(t, p.interventions.saved, 1)
	assert.Contains(t, p.interventions.saved[0].Actions, string(intervention.ActionManualReview))
	assert.False(t, p.enforcer.IsLocked(ctx, "user-3"))
}

func TestAssessor_OutsizedPaymentIsHeld(t *testing.T) {
	profiles := staticProfiles{
		"user-4": {
			ActorID:          "user-4",
			NormalLoginHours: map[int]struct{}{14: {}},
			NormalIPs:        map[string]struct{}{"203.0.113.1": {}},
			NormalDevices:    map[string]struct{}{},
			AvgPaymentAmount: 50,
			PaymentCount:     10,
		},
	}
	p := newPipeline(profiles)
	ctx := context.Background()

	p.sink.Append(ctx, &events.SecurityEvent{
		EventType: events.TypePaymentAttempt,
		UserID:    "user-4",
		IP:        "203.0.113.1",
		Details:   events.JSONMap{"amount": 500.0},
		CreatedAt: daytime(),
	})
	p.assessor.assessPending(ctx)

	assert.True(t, p.enforcer.ActorFlags(ctx, "user-4").PaymentHold)
	require.Len(t, p.interventions.saved, 1)
	assert.Equal(t, events.TypeUnusualPaymentAmounts, p.interventions.saved[0].ActivityType)
}

func TestAssessor_OrdinaryPaymentPassesUnchanged(t *testing.T) {
	profiles := staticProfiles{
		"user-5": {
			ActorID:          "user-5",
			NormalLoginHours: map[int]struct{}{14: {}},
			NormalIPs:        map[string]struct{}{"203.0.113.1": {}},
			NormalDevices:    map[string]struct{}{},
			AvgPaymentAmount: 50,
			PaymentCount:     10,
		},
	}
	p := newPipeline(profiles)
	ctx := context.Background()

	p.sink.Append(ctx, &events.SecurityEvent{
		EventType: events.TypePaymentAttempt,
		UserID:    "user-5",
		IP:        "203.0.113.1",
		Details:   events.JSONMap{"amount": 60.0},
		CreatedAt: daytime(),
	})
	p.assessor.assessPending(ctx)

	// An ordinary payment stays at base risk: medium tier, monitoring only.
	flags := p.enforcer.ActorFlags(ctx, "user-5")
	assert.False(t, flags.PaymentHold)
	assert.True(t, flags.Monitored)
	require.Len(t, p.interventions.saved, 1)
	assert.Equal(t, []string(p.interventions.saved[0].Actions), []string{string(intervention.ActionMonitor)})
}

func TestAssessor_IgnoresAnonymousAndDecisionEvents(t *testing.T) {
	p := newPipeline(staticProfiles{})
	ctx := context.Background()

	p.sink.Append(ctx, &events.SecurityEvent{EventType: events.TypeFailedLogin, IP: "203.0.113.9"})
	p.sink.Append(ctx, &events.SecurityEvent{EventType: events.TypeIPBlocked, UserID: "user-6"})
	p.assessor.assessPending(ctx)

	assert.Empty(t, p.interventions.saved)
}
