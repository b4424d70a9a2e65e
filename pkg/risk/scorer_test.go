package risk

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"

	"github.com/guardline/abusegate/pkg/config"
)

const chromeUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

type staticProfiles map[string]*BehavioralProfile

func (p staticProfiles) Profile(actorID string) *BehavioralProfile {
	return p[actorID]
}

func testRiskConfig() config.RiskConfig {
	return config.RiskConfig{
		HighThreshold:     0.7,
		MediumThreshold:   0.4,
		VelocityPerMinute: 10,
		HighRiskIPs:       []string{"198.51.100.66"},
	}
}

func newTestScorer(profiles ProfileProvider) *Scorer {
	if profiles == nil {
		profiles = staticProfiles{}
	}
	return NewScorer(profiles, logrus.New(), testRiskConfig(), nil)
}

func at(hour int) time.Time {
	return time.Date(2026, 3, 10, hour, 15, 0, 0, time.UTC)
}

func TestScorer_ColdStartLoginStaysAtBaseRisk(t *testing.T) {
	scorer := newTestScorer(nil)

	assessment := scorer.Assess(Activity{
		ActorID:   "user-new",
		Type:      "general_login",
		IP:        "203.0.113.20",
		Timestamp: at(14),
	})

	assert.LessOrEqual(t, assessment.RiskScore, 0.5)
	assert.NotEqual(t, TierHigh, assessment.Tier)
}

func TestScorer_DeviatingLoginScoresHigh(t *testing.T) {
	profiles := staticProfiles{
		"user-1": {
			ActorID:          "user-1",
			NormalLoginHours: map[int]struct{}{9: {}, 10: {}, 11: {}},
			NormalIPs:        map[string]struct{}{"203.0.113.1": {}},
			NormalDevices:    map[string]struct{}{},
		},
	}
	scorer := newTestScorer(profiles)

	assessment := scorer.Assess(Activity{
		ActorID:   "user-1",
		Type:      "general_login",
		IP:        "203.0.113.2",
		Timestamp: at(2),
	})

	assert.GreaterOrEqual(t, assessment.RiskScore, 0.7)
	assert.Equal(t, TierHigh, assessment.Tier)
	assert.Contains(t, assessment.ContributingFactors, "unusual_ip")
	assert.Contains(t, assessment.ContributingFactors, "off_hours_activity")
	assert.Contains(t, assessment.ContributingFactors, "unusual_login_hour")
}

func TestScorer_BaseRiskTable(t *testing.T) {
	scorer := newTestScorer(nil)

	cases := []struct {
		activityType string
		score        float64
		tier         Tier
	}{
		{"multiple_failed_logins", 0.9, TierHigh},
		{"unusual_payment_amounts", 0.8, TierHigh},
		{"excessive_login_attempts", 0.8, TierHigh},
		{"something_unmapped", 0.5, TierMedium},
	}

	for _, tc := range cases {
		t.Run(tc.activityType, func(t *testing.T) {
			assessment := scorer.Assess(Activity{
				ActorID:   "user-2",
				Type:      tc.activityType,
				Timestamp: at(14),
			})
			assert.InDelta(t, tc.score, assessment.RiskScore, 1e-9)
			assert.Equal(t, tc.tier, assessment.Tier)
		})
	}
}

func TestScorer_VelocityAboveThresholdContributes(t *testing.T) {
	scorer := newTestScorer(nil)

	assessment := scorer.Assess(Activity{
		ActorID:         "user-3",
		Type:            "general_login",
		Timestamp:       at(14),
		EventsPerMinute: 25,
	})

	assert.Contains(t, assessment.ContributingFactors, "high_velocity")
	assert.InDelta(t, 0.5, assessment.RiskScore, 1e-9)
}

func TestScorer_HighRiskIPContributes(t *testing.T) {
	scorer := newTestScorer(nil)

	assessment := scorer.Assess(Activity{
		ActorID:   "user-4",
		Type:      "general_login",
		IP:        "198.51.100.66",
		Timestamp: at(14),
	})

	assert.Contains(t, assessment.ContributingFactors, "high_risk_ip")
}

func TestScorer_UnknownDeviceContributes(t *testing.T) {
	profiles := staticProfiles{
		"user-5": {
			ActorID:          "user-5",
			NormalLoginHours: map[int]struct{}{14: {}},
			NormalIPs:        map[string]struct{}{"203.0.113.1": {}},
			NormalDevices:    map[string]struct{}{DeviceFingerprint(chromeUA): {}},
		},
	}
	scorer := newTestScorer(profiles)

	assessment := scorer.Assess(Activity{
		ActorID:   "user-5",
		Type:      "general_login",
		IP:        "203.0.113.1",
		UserAgent: "curl/8.5.0",
		Timestamp: at(14),
	})

	assert.Contains(t, assessment.ContributingFactors, "unusual_device")
}

func TestScorer_EmptyProfileDimensionIsNotADeviation(t *testing.T) {
	profiles := staticProfiles{
		"user-6": {
			ActorID:          "user-6",
			NormalLoginHours: map[int]struct{}{14: {}},
			NormalIPs:        map[string]struct{}{},
			NormalDevices:    map[string]struct{}{},
		},
	}
	scorer := newTestScorer(profiles)

	assessment := scorer.Assess(Activity{
		ActorID:   "user-6",
		Type:      "general_login",
		IP:        "203.0.113.77",
		UserAgent: chromeUA,
		Timestamp: at(14),
	})

	assert.NotContains(t, assessment.ContributingFactors, "unusual_ip")
	assert.NotContains(t, assessment.ContributingFactors, "unusual_device")
}

func TestScorer_ScoreNeverExceedsOne(t *testing.T) {
	profiles := staticProfiles{
		"user-7": {
			ActorID:          "user-7",
			NormalLoginHours: map[int]struct{}{14: {}},
			NormalIPs:        map[string]struct{}{"203.0.113.1": {}},
			NormalDevices:    map[string]struct{}{DeviceFingerprint(chromeUA): {}},
		},
	}
	scorer := newTestScorer(profiles)

	assessment := scorer.Assess(Activity{
		ActorID:         "user-7",
		Type:            "multiple_failed_logins",
		IP:              "198.51.100.66",
		UserAgent:       "curl/8.5.0",
		Timestamp:       at(23),
		EventsPerMinute: 100,
	})

	assert.LessOrEqual(t, assessment.RiskScore, 1.0)
	assert.Equal(t, TierHigh, assessment.Tier)
}

func TestScorer_StrongestEstimatorWins(t *testing.T) {
	scorer := newTestScorer(nil)

	// Off-hours alone (0.2) must not pull the score above the base risk.
	assessment := scorer.Assess(Activity{
		ActorID:   "user-8",
		Type:      "general_login",
		Timestamp: at(23),
	})

	assert.InDelta(t, 0.5, assessment.RiskScore, 1e-9)
}
