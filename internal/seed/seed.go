package seed

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	chargedomain "github.com/alphagov/pay-connector-sub019/internal/charge/domain"
)

const (
	sandboxProvider    = "sandbox"
	sandboxServiceName = "Sandbox Service"
)

// EnsureSandboxAccount seeds the default sandbox gateway account for
// startup bootstrap. Safe to run on every boot.
func EnsureSandboxAccount(db *gorm.DB) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return err
	}

	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var account chargedomain.GatewayAccount
		err := tx.WithContext(ctx).Where("provider = ?", sandboxProvider).First(&account).Error
		if err == nil {
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		account = chargedomain.GatewayAccount{
			ID:          node.Generate(),
			Provider:    sandboxProvider,
			ServiceName: sandboxServiceName,
			CreatedAt:   time.Now().UTC(),
		}
		return tx.WithContext(ctx).Create(&account).Error
	})
}
