package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/alphagov/pay-connector-sub019/internal/audit/domain"
)

type gormRepository struct{}

// New returns the gorm-backed audit repository.
func New() domain.Repository {
	return &gormRepository{}
}

func (r *gormRepository) Insert(ctx context.Context, db *gorm.DB, entry *domain.AuditLog) error {
	return db.WithContext(ctx).Create(entry).Error
}

func (r *gormRepository) ListByTarget(ctx context.Context, db *gorm.DB, targetType, targetID string, limit int) ([]domain.AuditLog, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	var entries []domain.AuditLog
	err := db.WithContext(ctx).
		Where("target_type = ? AND target_id = ?", targetType, targetID).
		Order("created_at DESC").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}
