package intervention

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/gorm"
)

// Action is one enforcement step taken against an actor.
type Action string

const (
	ActionLock         Action = "lock"
	ActionMFARequired  Action = "mfa_required"
	ActionPaymentHold  Action = "payment_hold"
	ActionManualReview Action = "manual_review"
	ActionAlert        Action = "alert"
	ActionMonitor      Action = "monitor"
	ActionLog          Action = "log"
)

// Intervention is the append-only record of enforcement applied to an
// actor. Re-applying an action that is already in force records nothing.
type Intervention struct {
	ID           uuid.UUID      `json:"id" gorm:"type:uuid;primaryKey"`
	ActorID      string         `json:"actor_id" gorm:"index;not null"`
	ActivityType string         `json:"activity_type"`
	Actions      pq.StringArray `json:"actions" gorm:"type:text[]"`
	RiskScore    float64        `json:"risk_score"`
	CreatedAt    time.Time      `json:"created_at" gorm:"index"`
}

func (iv *Intervention) BeforeCreate(tx *gorm.DB) error {
	if iv.ID == uuid.Nil {
		iv.ID = uuid.New()
	}
	return nil
}

func (Intervention) TableName() string {
	return "interventions"
}

//go:generate mockery --name=Repository --dir=. --output=../../../mocks --filename=intervention_repository_mock.go --case=underscore --with-expecter
type Repository interface {
	Save(ctx context.Context, iv *Intervention) error
	ListByActor(ctx context.Context, actorID string, limit int) ([]Intervention, error)
}
