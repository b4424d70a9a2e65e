package enforce_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
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

// Save runs the model's create hook the way the gorm repository would.
func (r *recordingInterventionRepo) Save(_ context.Context, iv *intervention.Intervention) error {
	if err := iv.BeforeCreate(nil); err != nil {
		return err
	}
	r.saved = append(r.saved, *iv)
	return nil
}

func (r *recordingInterventionRepo) ListByActor(context.Context, string, int) ([]intervention.Intervention, error) {
	return nil, nil
}

type recordingNotifier struct {
	alerts []notify.Alert
}

func (n *recordingNotifier) Notify(_ context.Context, alert notify.Alert) error {
	n.alerts = append(n.alerts, alert)
	return nil
}

type harness struct {
	enforcer      *enforce.Enforcer
	store         cache.Store
	sink          *audit.Sink
	interventions *recordingInterventionRepo
	notifier      *recordingNotifier
}

func newHarness(now func() time.Time) *harness {
	logger := logrus.New()
	var store cache.Store
	if now != nil {
		store = cache.NewMemoryStore(&cache.MemoryStoreOpts{TimeProvider: now})
	} else {
		store = cache.NewMemoryStore(nil)
	}
	sink := audit.NewSink(logger, nullEventRepo{}, config.AuditConfig{RecentBufferSize: 64, QueueSize: 256}, nil)
	interventions := &recordingInterventionRepo{}
	notifier := &recordingNotifier{}
	cfg := config.RiskConfig{HighThreshold: 0.7, MediumThreshold: 0.4, LockSeconds: 60}
	opts := &enforce.EnforcerOpts{}
	if now != nil {
		opts.TimeProvider = now
	}
	return &harness{
		enforcer:      enforce.NewEnforcer(store, interventions, sink, notifier, logger, cfg, opts),
		store:         store,
		sink:          sink,
		interventions: interventions,
		notifier:      notifier,
	}
}

func highAssessment(actor, activity string) risk.ThreatAssessment {
	return risk.ThreatAssessment{
		ActorID:      actor,
		ActivityType: activity,
		RiskScore:    0.9,
		Tier:         risk.TierHigh,
	}
}

func TestEnforcer_HighTierFailedLoginsLocksAccount(t *testing.T) {
	h := newHarness(nil)
	ctx := context.Background()

	outcome, err := h.enforcer.Enforce(ctx, highAssessment("user-1", events.TypeMultipleFailedLogins))
	require.NoError(t, err)

	assert.ElementsMatch(t, []intervention.Action{
		intervention.ActionLock, intervention.ActionMFARequired, intervention.ActionAlert,
	}, outcome.Actions)
	assert.True(t, h.enforcer.IsLocked(ctx, "user-1"))
	assert.True(t, h.enforcer.ActorFlags(ctx, "user-1").MFARequired)

	require.Len(t, h.interventions.saved, 1)
	assert.Equal(t, "user-1", h.interventions.saved[0].ActorID)
	assert.InDelta(t, 0.9, h.interventions.saved[0].RiskScore, 1e-9)

	require.Len(t, h.notifier.alerts, 1)
	assert.Equal(t, events.TypeMultipleFailedLogins, h.notifier.alerts[0].ActivityType)

	recent := h.sink.Recent(1)
	require.Len(t, recent, 1)
	assert.Equal(t, events.TypeAccountLocked, recent[0].EventType)
	assert.Equal(t, "user-1", recent[0].UserID)
}

func TestEnforcer_ReassessmentDoesNotExtendLockOrRealert(t *testing.T) {
	now := time.Unix(1700000000, 0)
	clock := func() time.Time { return now }
	h := newHarness(clock)
	ctx := context.Background()

	_, err := h.enforcer.Enforce(ctx, highAssessment("user-2", events.TypeMultipleFailedLogins))
	require.NoError(t, err)

	now = now.Add(50 * time.Second)
	outcome, err := h.enforcer.Enforce(ctx, highAssessment("user-2", events.TypeMultipleFailedLogins))
	require.NoError(t, err)

	assert.Empty(t, outcome.Actions)
	assert.Len(t, h.interventions.saved, 1)
	assert.Len(t, h.notifier.alerts, 1)

	// Lock still runs off the original expiry.
	now = now.Add(11 * time.Second)
	assert.False(t, h.enforcer.IsLocked(ctx, "user-2"))
}

func TestEnforcer_HighTierPaymentAnomalyHoldsWithoutLock(t *testing.T) {
	h := newHarness(nil)
	ctx := context.Background()

	outcome, err := h.enforcer.Enforce(ctx, highAssessment("user-3", events.TypeUnusualPaymentAmounts))
	require.NoError(t, err)

	assert.ElementsMatch(t, []intervention.Action{
		intervention.ActionPaymentHold, intervention.ActionManualReview, intervention.ActionAlert,
	}, outcome.Actions)
	assert.False(t, h.enforcer.IsLocked(ctx, "user-3"))
	assert.True(t, h.enforcer.ActorFlags(ctx, "user-3").PaymentHold)
}

func TestEnforcer_UnmappedHighActivityGetsDefaultActions(t *testing.T) {
	h := newHarness(nil)

	outcome, err := h.enforcer.Enforce(context.Background(), highAssessment("user-4", "strange_activity"))
	require.NoError(t, err)

	assert.ElementsMatch(t, []intervention.Action{
		intervention.ActionManualReview, intervention.ActionAlert,
	}, outcome.Actions)
}

func TestEnforcer_MediumTierOnlyMonitors(t *testing.T) {
	h := newHarness(nil)
	ctx := context.Background()

	outcome, err := h.enforcer.Enforce(ctx, risk.ThreatAssessment{
		ActorID:      "user-5",
		ActivityType: events.TypeGeneralLogin,
		RiskScore:    0.5,
		Tier:         risk.TierMedium,
	})
	require.NoError(t, err)

	assert.Equal(t, []intervention.Action{intervention.ActionMonitor}, outcome.Actions)
	assert.False(t, h.enforcer.IsLocked(ctx, "user-5"))
	assert.True(t, h.enforcer.ActorFlags(ctx, "user-5").Monitored)
	assert.Empty(t, h.notifier.alerts)
}

func TestEnforcer_LowTierDoesNothing(t *testing.T) {
	h := newHarness(nil)

	outcome, err := h.enforcer.Enforce(context.Background(), risk.ThreatAssessment{
		ActorID:   "user-6",
		Tier:      risk.TierLow,
		RiskScore: 0.1,
	})
	require.NoError(t, err)

	assert.Empty(t, outcome.Actions)
	assert.Empty(t, h.interventions.saved)
}

func TestEnforcer_EveryRecordCarriesItsOwnID(t *testing.T) {
	h := newHarness(nil)
	ctx := context.Background()

	_, err := h.enforcer.Enforce(ctx, highAssessment("user-8", events.TypeMultipleFailedLogins))
	require.NoError(t, err)
	_, err = h.enforcer.Enforce(ctx, highAssessment("user-9", events.TypeUnusualPaymentAmounts))
	require.NoError(t, err)

	require.Len(t, h.interventions.saved, 2)
	assert.NotEqual(t, uuid.Nil, h.interventions.saved[0].ID)
	assert.NotEqual(t, uuid.Nil, h.interventions.saved[1].ID)
	assert.NotEqual(t, h.interventions.saved[0].ID, h.interventions.saved[1].ID)
}

func TestEnforcer_LowerSeverityNeverReleasesALock(t *testing.T) {
	h := newHarness(nil)
	ctx := context.Background()

	_, err := h.enforcer.Enforce(ctx, highAssessment("user-7", events.TypeMultipleFailedLogins))
	require.NoError(t, err)
	require.True(t, h.enforcer.IsLocked(ctx, "user-7"))

	_, err = h.enforcer.Enforce(ctx, risk.ThreatAssessment{
		ActorID:      "user-7",
		ActivityType: events.TypeGeneralLogin,
		RiskScore:    0.2,
		Tier:         risk.TierLow,
	})
	require.NoError(t, err)

	assert.True(t, h.enforcer.IsLocked(ctx, "user-7"))
}
