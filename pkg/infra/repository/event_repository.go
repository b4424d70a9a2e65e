package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/guardline/abusegate/pkg/domain/events"
)

type eventRepository struct {
	db *gorm.DB
}

func NewEventRepository(db *gorm.DB) events.Repository {
	return &eventRepository{
		db: db,
	}
}

func (r *eventRepository) Save(ctx context.Context, event *events.SecurityEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}

func (r *eventRepository) Query(ctx context.Context, filter events.Filter, limit int) ([]events.SecurityEvent, error) {
	q := r.db.WithContext(ctx).Model(&events.SecurityEvent{})
	if filter.UserID != "" {
		q = q.Where("user_id = ?", filter.UserID)
	}
	if filter.EventType != "" {
		q = q.Where("event_type = ?", filter.EventType)
	}
	if filter.IP != "" {
		q = q.Where("ip = ?", filter.IP)
	}
	if !filter.Since.IsZero() {
		q = q.Where("created_at >= ?", filter.Since)
	}

	var result []events.SecurityEvent
	err := q.Order("created_at DESC").Limit(limit).Find(&result).Error
	return result, err
}

func (r *eventRepository) ListSince(ctx context.Context, userID string, since time.Time) ([]events.SecurityEvent, error) {
	var result []events.SecurityEvent
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND created_at >= ?", userID, since).
		Order("created_at ASC").
		Find(&result).Error
	return result, err
}

func (r *eventRepository) ActiveActors(ctx context.Context, since time.Time) ([]string, error) {
	var actors []string
	err := r.db.WithContext(ctx).
		Model(&events.SecurityEvent{}).
		Where("user_id <> '' AND created_at >= ?", since).
		Distinct("user_id").
		Pluck("user_id", &actors).Error
	return actors, err
}
