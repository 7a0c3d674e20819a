package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	"github.com/alphagov/pay-connector-sub019/internal/refund/domain"
)

type gormRepository struct{}

// New returns the gorm-backed refund repository.
func New() domain.Repository {
	return &gormRepository{}
}

func (r *gormRepository) FindByProviderReference(ctx context.Context, db *gorm.DB, provider, reference string) (*domain.Refund, error) {
	var refund domain.Refund
	err := db.WithContext(ctx).
		Where("provider = ? AND provider_reference = ?", provider, reference).
		First(&refund).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrRefundNotFound
	}
	if err != nil {
		return nil, err
	}
	return &refund, nil
}

func (r *gormRepository) UpdateStatus(ctx context.Context, db *gorm.DB, refund *domain.Refund, status domain.RefundStatus, now time.Time) error {
	result := db.WithContext(ctx).Exec(
		`UPDATE refunds
		 SET status = ?, version = version + 1, updated_at = ?
		 WHERE id = ? AND version = ?`,
		status,
		now,
		refund.ID,
		refund.Version,
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrVersionConflict
	}
	refund.Status = status
	refund.Version++
	return nil
}

func (r *gormRepository) FindInIDRange(ctx context.Context, db *gorm.DB, startID, maxID snowflake.ID, limit int) ([]domain.Refund, error) {
	var refunds []domain.Refund
	err := db.WithContext(ctx).Raw(
		`SELECT *
		 FROM refunds
		 WHERE id >= ? AND id <= ?
		 ORDER BY id ASC
		 LIMIT ?`,
		startID,
		maxID,
		limit,
	).Scan(&refunds).Error
	if err != nil {
		return nil, err
	}
	return refunds, nil
}

func (r *gormRepository) SetParityCheckStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status string, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE refunds
		 SET parity_check_status = ?, parity_check_date = ?
		 WHERE id = ?`,
		status,
		now,
		id,
	).Error
}
