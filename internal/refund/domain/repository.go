package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Repository provides refund persistence.
type Repository interface {
	FindByProviderReference(ctx context.Context, db *gorm.DB, provider, reference string) (*Refund, error)
	UpdateStatus(ctx context.Context, db *gorm.DB, refund *Refund, status RefundStatus, now time.Time) error
	FindInIDRange(ctx context.Context, db *gorm.DB, startID, maxID snowflake.ID, limit int) ([]Refund, error)
	SetParityCheckStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status string, now time.Time) error
}
