package events

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event types recorded in the audit trail. WAF detections use the
// WAFEventType helper so the category travels in the type itself.
const (
	TypeRequest                = "request"
	TypeFailedLogin            = "failed_login"
	TypeGeneralLogin           = "general_login"
	TypeRateLimitExceeded      = "rate_limit_exceeded"
	TypeRateLimiterUnavailable = "rate_limiter_unavailable"
	TypeIPBlocked              = "ip_blocked"
	TypeBlockedRequestDenied   = "blocked_request_denied"
	TypeThreatAssessed         = "threat_assessed"
	TypeAccountLocked          = "account_locked"
	TypePaymentAttempt         = "payment_attempt"

	TypeMultipleFailedLogins   = "multiple_failed_logins"
	TypeUnusualPaymentAmounts  = "unusual_payment_amounts"
	TypeExcessiveLoginAttempts = "excessive_login_attempts"
)

func WAFEventType(category string) string {
	return "WAF_" + category
}

// JSONMap stores the event's kind-specific payload as jsonb. Known fields
// live in the typed columns; this map carries forward-compatible extras.
type JSONMap map[string]interface{}

func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

func (m *JSONMap) Scan(value interface{}) error {
	if value == nil {
		*m = nil
		return nil
	}
	data, ok := value.([]byte)
	if !ok {
		str, ok := value.(string)
		if !ok {
			return fmt.Errorf("unsupported jsonb source type %T", value)
		}
		data = []byte(str)
	}
	return json.Unmarshal(data, m)
}

// SecurityEvent is one append-only record of a security decision or a
// qualifying activity. It is never mutated after creation.
type SecurityEvent struct {
	ID          uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	UserID      string    `json:"user_id,omitempty" gorm:"index"`
	EventType   string    `json:"event_type" gorm:"index;not null"`
	IP          string    `json:"ip" gorm:"index"`
	UserAgent   string    `json:"user_agent"`
	CountryCode string    `json:"country_code,omitempty"`
	Details     JSONMap   `json:"details,omitempty" gorm:"type:jsonb"`
	CreatedAt   time.Time `json:"created_at" gorm:"index"`
}

func (SecurityEvent) TableName() string {
	return "security_events"
}

// Filter narrows audit queries. Zero fields match everything.
type Filter struct {
	UserID    string
	EventType string
	IP        string
	Since     time.Time
}

//go:generate mockery --name=Repository --dir=. --output=../../../mocks --filename=event_repository_mock.go --case=underscore --with-expecter
type Repository interface {
	Save(ctx context.Context, event *SecurityEvent) error
	Query(ctx context.Context, filter Filter, limit int) ([]SecurityEvent, error)
	// ListSince returns all events for one actor after the cutoff, oldest
	// first, used by the behavioral profile rebuild.
	ListSince(ctx context.Context, userID string, since time.Time) ([]SecurityEvent, error)
	// ActiveActors lists actors with at least one event after the cutoff.
	ActiveActors(ctx context.Context, since time.Time) ([]string, error)
}
