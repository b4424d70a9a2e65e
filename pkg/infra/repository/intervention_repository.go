package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/guardline/abusegate/pkg/domain/intervention"
)

type interventionRepository struct {
	db *gorm.DB
}

func NewInterventionRepository(db *gorm.DB) intervention.Repository {
	return &interventionRepository{
		db: db,
	}
}

func (r *interventionRepository) Save(ctx context.Context, iv *intervention.Intervention) error {
	return r.db.WithContext(ctx).Create(iv).Error
}

func (r *interventionRepository) ListByActor(ctx context.Context, actorID string, limit int) ([]intervention.Intervention, error) {
	var result []intervention.Intervention
	err := r.db.WithContext(ctx).
		Where("actor_id = ?", actorID).
		Order("created_at DESC").
		Limit(limit).
		Find(&result).Error
	return result, err
}
