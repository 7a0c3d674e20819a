package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Repository provides charge persistence. Mutating methods take the *gorm.DB
// handle so callers can compose them inside a transaction.
type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, charge *Charge) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Charge, error)
	FindByExternalID(ctx context.Context, db *gorm.DB, externalID string) (*Charge, error)
	FindByGatewayTransaction(ctx context.Context, db *gorm.DB, provider, reference string) (*Charge, error)

	// UpdateStatus performs the optimistic-concurrency write: the row is only
	// updated when its version still equals expectedVersion. Returns
	// ErrVersionConflict when another writer won.
	UpdateStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status ChargeStatus, expectedVersion int64, now time.Time) error

	// SetGatewayTransaction assigns the gateway reference exactly once.
	SetGatewayTransaction(ctx context.Context, db *gorm.DB, id snowflake.ID, reference string, now time.Time) error

	InsertEvent(ctx context.Context, db *gorm.DB, event *ChargeEvent) error
	CountStatusEvents(ctx context.Context, db *gorm.DB, chargeID snowflake.ID, status ChargeStatus) (int, error)

	// FindCaptureCandidates returns charges awaiting capture, oldest first.
	// CAPTURE_APPROVED rows are always eligible; CAPTURE_APPROVED_RETRY rows
	// only once their last update is older than retryReadyBefore.
	FindCaptureCandidates(ctx context.Context, db *gorm.DB, retryReadyBefore time.Time, limit int) ([]Charge, error)

	// FindStaleSubmitted returns claimed charges whose capture claim is older
	// than olderThan, for release by the stale-claim sweep.
	FindStaleSubmitted(ctx context.Context, db *gorm.DB, olderThan time.Time, limit int) ([]Charge, error)

	// FindExpirable returns pre-capture charges created before the threshold.
	FindExpirable(ctx context.Context, db *gorm.DB, createdBefore time.Time, limit int) ([]Charge, error)

	FindInIDRange(ctx context.Context, db *gorm.DB, startID, maxID snowflake.ID, limit int) ([]Charge, error)
	SetParityCheckStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status string, now time.Time) error

	FindAccount(ctx context.Context, db *gorm.DB, id snowflake.ID) (*GatewayAccount, error)
}
