package risk

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/guardline/abusegate/pkg/config"
	"github.com/guardline/abusegate/pkg/metrics"
)

// Tier is the enforcement band an assessment falls into.
type Tier string

const (
	TierHigh   Tier = "high"
	TierMedium Tier = "medium"
	TierLow    Tier = "low"
)

// Risk term weights. The combined score takes the strongest estimator, not
// a sum: three weak signals must not masquerade as one strong one.
const (
	defaultBaseRisk = 0.5

	weightUnusualHour   = 0.3
	weightUnusualIP     = 0.4
	weightUnusualDevice = 0.3

	weightOffHours     = 0.2
	weightHighRiskIP   = 0.4
	weightHighVelocity = 0.5

	factorReportThreshold = 0.2
)

var baseRisk = map[string]float64{
	"multiple_failed_logins":   0.9,
	"unusual_payment_amounts":  0.8,
	"excessive_login_attempts": 0.8,
}

// Activity is one qualifying action to score.
type Activity struct {
	ActorID         string
	Type            string
	IP              string
	UserAgent       string
	Timestamp       time.Time
	EventsPerMinute float64
}

// ThreatAssessment is the scorer's verdict for one activity.
type ThreatAssessment struct {
	ActorID             string    `json:"actor_id"`
	ActivityType        string    `json:"activity_type"`
	RiskScore           float64   `json:"risk_score"`
	Tier                Tier      `json:"tier"`
	ContributingFactors []string  `json:"contributing_factors"`
	AssessedAt          time.Time `json:"assessed_at"`
}

// ProfileProvider resolves an actor's behavioral profile, nil on cold start.
type ProfileProvider interface {
	Profile(actorID string) *BehavioralProfile
}

// Scorer combines three independent risk estimators over one activity:
// the activity kind's base risk, deviation from the actor's behavioral
// profile, and request context (hour, source IP, velocity).
type Scorer struct {
	profiles     ProfileProvider
	logger       *logrus.Logger
	cfg          config.RiskConfig
	highRiskIPs  map[string]struct{}
	timeProvider func() time.Time
}

type ScorerOpts struct {
	TimeProvider func() time.Time
}

func NewScorer(profiles ProfileProvider, logger *logrus.Logger, cfg config.RiskConfig, opts *ScorerOpts) *Scorer {
	timeProvider := time.Now
	if opts != nil && opts.TimeProvider != nil {
		timeProvider = opts.TimeProvider
	}
	highRisk := make(map[string]struct{}, len(cfg.HighRiskIPs))
	for _, ip := range cfg.HighRiskIPs {
		highRisk[ip] = struct{}{}
	}
	return &Scorer{
		profiles:     profiles,
		logger:       logger,
		cfg:          cfg,
		highRiskIPs:  highRisk,
		timeProvider: timeProvider,
	}
}

// Assess scores one activity. Deviation terms apply only when the profile
// actually recorded the corresponding dimension: an empty profile set means
// "unknown", never "everything is unusual".
func (s *Scorer) Assess(activity Activity) ThreatAssessment {
	when := activity.Timestamp
	if when.IsZero() {
		when = s.timeProvider()
	}

	var factors []string
	addFactor := func(name string, weight float64) {
		if weight >= factorReportThreshold {
			factors = append(factors, name)
		}
	}

	base, known := baseRisk[activity.Type]
	if !known {
		base = defaultBaseRisk
	}
	addFactor("base_risk:"+activity.Type, base)

	deviation := 0.0
	if profile := s.profiles.Profile(activity.ActorID); profile != nil {
		if len(profile.NormalLoginHours) > 0 && !profile.knowsHour(when.Hour()) {
			deviation += weightUnusualHour
			addFactor("unusual_login_hour", weightUnusualHour)
		}
		if len(profile.NormalIPs) > 0 && activity.IP != "" && !profile.knowsIP(activity.IP) {
			deviation += weightUnusualIP
			addFactor("unusual_ip", weightUnusualIP)
		}
		if device := DeviceFingerprint(activity.UserAgent); device != "" &&
			len(profile.NormalDevices) > 0 && !profile.knowsDevice(device) {
			deviation += weightUnusualDevice
			addFactor("unusual_device", weightUnusualDevice)
		}
	}

	contextual := 0.0
	if hour := when.Hour(); hour >= 22 || hour < 6 {
		contextual += weightOffHours
		addFactor("off_hours_activity", weightOffHours)
	}
	if _, hot := s.highRiskIPs[activity.IP]; hot {
		contextual += weightHighRiskIP
		addFactor("high_risk_ip", weightHighRiskIP)
	}
	if activity.EventsPerMinute > s.cfg.VelocityPerMinute {
		contextual += weightHighVelocity
		addFactor("high_velocity", weightHighVelocity)
	}

	score := clamp(max3(base, clamp(deviation), clamp(contextual)))
	tier := s.tierFor(score)

	metrics.AssessmentsTotal.WithLabelValues(string(tier)).Inc()
	s.logger.WithFields(logrus.Fields{
		"actor_id":      activity.ActorID,
		"activity_type": activity.Type,
		"risk_score":    score,
		"tier":          tier,
	}).Info("threat assessed")

	return ThreatAssessment{
		ActorID:             activity.ActorID,
		ActivityType:        activity.Type,
		RiskScore:           score,
		Tier:                tier,
		ContributingFactors: factors,
		AssessedAt:          when,
	}
}

func (s *Scorer) tierFor(score float64) Tier {
	switch {
	case score >= s.cfg.HighThreshold:
		return TierHigh
	case score > s.cfg.MediumThreshold:
		return TierMedium
	default:
		return TierLow
	}
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func max3(a, b, c float64) float64 {
	m := a
	if b > m {
		m = b
	}
	if c > m {
		m = c
	}
	return m
}
