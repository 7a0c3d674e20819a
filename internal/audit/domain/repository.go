package domain

import (
	"context"

	"gorm.io/gorm"
)

// Repository persists audit log entries.
type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, entry *AuditLog) error
	ListByTarget(ctx context.Context, db *gorm.DB, targetType, targetID string, limit int) ([]AuditLog, error)
}
