package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Charge is the aggregate root for a single payment attempt. Rows are never
// deleted; terminal states are retained for audit.
type Charge struct {
	ID                   snowflake.ID `gorm:"primaryKey"`
	ExternalID           string       `gorm:"uniqueIndex;not null"`
	GatewayAccountID     snowflake.ID `gorm:"not null;index"`
	Provider             string       `gorm:"type:text;not null"`
	Amount               int64        `gorm:"not null"`
	Status               ChargeStatus `gorm:"type:text;not null"`
	GatewayTransactionID *string      `gorm:"type:text"`
	Version              int64        `gorm:"not null;default:0"`
	ParityCheckStatus    *string      `gorm:"type:text"`
	ParityCheckDate      *time.Time
	CreatedAt            time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt            time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Charge) TableName() string { return "charges" }

// ChargeEvent is one row of the append-only status history.
type ChargeEvent struct {
	ID               snowflake.ID `gorm:"primaryKey"`
	ChargeID         snowflake.ID `gorm:"not null;index"`
	Status           ChargeStatus `gorm:"type:text;not null"`
	GatewayEventDate *time.Time
	CreatedAt        time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (ChargeEvent) TableName() string { return "charge_events" }

// GatewayAccount holds per-merchant provider configuration.
type GatewayAccount struct {
	ID          snowflake.ID `gorm:"primaryKey"`
	Provider    string       `gorm:"type:text;not null"`
	ServiceName string       `gorm:"type:text;not null"`
	CreatedAt   time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (GatewayAccount) TableName() string { return "gateway_accounts" }
