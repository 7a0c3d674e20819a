package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	"github.com/alphagov/pay-connector-sub019/internal/charge/domain"
)

type gormRepository struct{}

// New returns the gorm-backed charge repository.
func New() domain.Repository {
	return &gormRepository{}
}

func (r *gormRepository) Insert(ctx context.Context, db *gorm.DB, charge *domain.Charge) error {
	if charge.Amount <= 0 {
		return domain.ErrInvalidAmount
	}
	return db.WithContext(ctx).Create(charge).Error
}

func (r *gormRepository) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Charge, error) {
	var charge domain.Charge
	err := db.WithContext(ctx).Where("id = ?", id).First(&charge).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrChargeNotFound
	}
	if err != nil {
		return nil, err
	}
	return &charge, nil
}

func (r *gormRepository) FindByExternalID(ctx context.Context, db *gorm.DB, externalID string) (*domain.Charge, error) {
	var charge domain.Charge
	err := db.WithContext(ctx).Where("external_id = ?", externalID).First(&charge).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrChargeNotFound
	}
	if err != nil {
		return nil, err
	}
	return &charge, nil
}

func (r *gormRepository) FindByGatewayTransaction(ctx context.Context, db *gorm.DB, provider, reference string) (*domain.Charge, error) {
	var charge domain.Charge
	err := db.WithContext(ctx).
		Where("provider = ? AND gateway_transaction_id = ?", provider, reference).
		First(&charge).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrChargeNotFound
	}
	if err != nil {
		return nil, err
	}
	return &charge, nil
}

func (r *gormRepository) UpdateStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status domain.ChargeStatus, expectedVersion int64, now time.Time) error {
	result := db.WithContext(ctx).Exec(
		`UPDATE charges
		 SET status = ?, version = version + 1, updated_at = ?
		 WHERE id = ? AND version = ?`,
		status,
		now,
		id,
		expectedVersion,
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrVersionConflict
	}
	return nil
}

func (r *gormRepository) SetGatewayTransaction(ctx context.Context, db *gorm.DB, id snowflake.ID, reference string, now time.Time) error {
	result := db.WithContext(ctx).Exec(
		`UPDATE charges
		 SET gateway_transaction_id = ?, updated_at = ?
		 WHERE id = ? AND gateway_transaction_id IS NULL`,
		reference,
		now,
		id,
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrGatewayTransactionAssigned
	}
	return nil
}

func (r *gormRepository) InsertEvent(ctx context.Context, db *gorm.DB, event *domain.ChargeEvent) error {
	return db.WithContext(ctx).Create(event).Error
}

func (r *gormRepository) CountStatusEvents(ctx context.Context, db *gorm.DB, chargeID snowflake.ID, status domain.ChargeStatus) (int, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(1)
		 FROM charge_events
		 WHERE charge_id = ? AND status = ?`,
		chargeID,
		status,
	).Scan(&count).Error
	if err != nil {
		return 0, err
	}
	return int(count), nil
}

func (r *gormRepository) FindCaptureCandidates(ctx context.Context, db *gorm.DB, retryReadyBefore time.Time, limit int) ([]domain.Charge, error) {
	var charges []domain.Charge
	err := db.WithContext(ctx).Raw(
		`SELECT *
		 FROM charges
		 WHERE status = ?
		    OR (status = ? AND updated_at <= ?)
		 ORDER BY created_at ASC, id ASC
		 LIMIT ?`,
		domain.StatusCaptureApproved,
		domain.StatusCaptureApprovedRetry,
		retryReadyBefore,
		limit,
	).Scan(&charges).Error
	if err != nil {
		return nil, err
	}
	return charges, nil
}

func (r *gormRepository) FindStaleSubmitted(ctx context.Context, db *gorm.DB, olderThan time.Time, limit int) ([]domain.Charge, error) {
	var charges []domain.Charge
	err := db.WithContext(ctx).Raw(
		`SELECT *
		 FROM charges
		 WHERE status IN (?, ?) AND updated_at < ?
		 ORDER BY updated_at ASC
		 LIMIT ?`,
		domain.StatusCaptureReady,
		domain.StatusCaptureSubmitted,
		olderThan,
		limit,
	).Scan(&charges).Error
	if err != nil {
		return nil, err
	}
	return charges, nil
}

func (r *gormRepository) FindExpirable(ctx context.Context, db *gorm.DB, createdBefore time.Time, limit int) ([]domain.Charge, error) {
	var charges []domain.Charge
	err := db.WithContext(ctx).Raw(
		`SELECT *
		 FROM charges
		 WHERE status IN (?, ?, ?, ?) AND created_at < ?
		 ORDER BY created_at ASC
		 LIMIT ?`,
		domain.StatusCreated,
		domain.StatusEnteringDetails,
		domain.StatusAuthorisationSubmitted,
		domain.StatusAuthorisationSuccess,
		createdBefore,
		limit,
	).Scan(&charges).Error
	if err != nil {
		return nil, err
	}
	return charges, nil
}

func (r *gormRepository) FindInIDRange(ctx context.Context, db *gorm.DB, startID, maxID snowflake.ID, limit int) ([]domain.Charge, error) {
	var charges []domain.Charge
	err := db.WithContext(ctx).Raw(
		`SELECT *
		 FROM charges
		 WHERE id >= ? AND id <= ?
		 ORDER BY id ASC
		 LIMIT ?`,
		startID,
		maxID,
		limit,
	).Scan(&charges).Error
	if err != nil {
		return nil, err
	}
	return charges, nil
}

func (r *gormRepository) SetParityCheckStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status string, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE charges
		 SET parity_check_status = ?, parity_check_date = ?
		 WHERE id = ?`,
		status,
		now,
		id,
	).Error
}

func (r *gormRepository) FindAccount(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.GatewayAccount, error) {
	var account domain.GatewayAccount
	err := db.WithContext(ctx).Where("id = ?", id).First(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}
