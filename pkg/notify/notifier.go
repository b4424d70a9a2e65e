package notify

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// Alert is one operator-facing notification about an enforcement decision.
type Alert struct {
	ActorID      string    `json:"actor_id"`
	ActivityType string    `json:"activity_type"`
	RiskScore    float64   `json:"risk_score"`
	Actions      []string  `json:"actions"`
	OccurredAt   time.Time `json:"occurred_at"`
}

type Notifier interface {
	Notify(ctx context.Context, alert Alert) error
}

// LogNotifier writes alerts to the structured log. It is the fallback when
// no broker is configured and keeps the enforcement path identical either
// way.
type LogNotifier struct {
	logger *logrus.Logger
}

func NewLogNotifier(logger *logrus.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(_ context.Context, alert Alert) error {
	n.logger.WithFields(logrus.Fields{
		"actor_id":      alert.ActorID,
		"activity_type": alert.ActivityType,
		"risk_score":    alert.RiskScore,
		"actions":       alert.Actions,
	}).Warn("security alert")
	return nil
}
