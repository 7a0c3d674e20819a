package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

// RefundStatus is the lifecycle state of a refund.
type RefundStatus string

const (
	StatusRefundSubmitted RefundStatus = "REFUND_SUBMITTED"
	StatusRefunded        RefundStatus = "REFUNDED"
	StatusRefundError     RefundStatus = "REFUND_ERROR"
)

var allowedTransitions = map[RefundStatus][]RefundStatus{
	StatusRefundSubmitted: {StatusRefunded, StatusRefundError},
	StatusRefunded:        {},
	StatusRefundError:     {},
}

// CanTransition reports whether a refund may move from one status to another.
func CanTransition(from, to RefundStatus) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

var (
	ErrRefundNotFound    = errors.New("refund_not_found")
	ErrInvalidTransition = errors.New("invalid_refund_transition")
	ErrVersionConflict   = errors.New("refund_version_conflict")
)

// Refund is one refund attempt against a captured charge, located from
// notifications by (provider, provider_reference).
type Refund struct {
	ID                snowflake.ID `gorm:"primaryKey"`
	ExternalID        string       `gorm:"uniqueIndex;not null"`
	ChargeID          snowflake.ID `gorm:"not null;index"`
	Provider          string       `gorm:"type:text;not null"`
	ProviderReference *string      `gorm:"type:text"`
	Amount            int64        `gorm:"not null"`
	Status            RefundStatus `gorm:"type:text;not null"`
	Version           int64        `gorm:"not null;default:0"`
	ParityCheckStatus *string      `gorm:"type:text"`
	ParityCheckDate   *time.Time
	CreatedAt         time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt         time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Refund) TableName() string { return "refunds" }
