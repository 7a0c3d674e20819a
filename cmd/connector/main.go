// @title           Pay Connector API
// @version         1.0
// @description     Charge lifecycle orchestration between the public payment API and gateway providers

// @host      localhost:8080
// @BasePath  /v1

package main

import (
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"gorm.io/gorm"

	"github.com/alphagov/pay-connector-sub019/internal/audit"
	auditdomain "github.com/alphagov/pay-connector-sub019/internal/audit/domain"
	"github.com/alphagov/pay-connector-sub019/internal/capture"
	"github.com/alphagov/pay-connector-sub019/internal/charge"
	chargedomain "github.com/alphagov/pay-connector-sub019/internal/charge/domain"
	"github.com/alphagov/pay-connector-sub019/internal/clock"
	"github.com/alphagov/pay-connector-sub019/internal/config"
	"github.com/alphagov/pay-connector-sub019/internal/events"
	"github.com/alphagov/pay-connector-sub019/internal/gateway"
	gatewaysandbox "github.com/alphagov/pay-connector-sub019/internal/gateway/sandbox"
	"github.com/alphagov/pay-connector-sub019/internal/ledger"
	"github.com/alphagov/pay-connector-sub019/internal/migration"
	"github.com/alphagov/pay-connector-sub019/internal/notification"
	notificationsandbox "github.com/alphagov/pay-connector-sub019/internal/notification/sandbox"
	"github.com/alphagov/pay-connector-sub019/internal/observability/logger"
	"github.com/alphagov/pay-connector-sub019/internal/observability/tracing"
	"github.com/alphagov/pay-connector-sub019/internal/parity"
	"github.com/alphagov/pay-connector-sub019/internal/refund"
	refunddomain "github.com/alphagov/pay-connector-sub019/internal/refund/domain"
	"github.com/alphagov/pay-connector-sub019/internal/seed"
	"github.com/alphagov/pay-connector-sub019/internal/server"
	"github.com/alphagov/pay-connector-sub019/pkg/db"
	"go.uber.org/zap"
)

var version = "dev"

func main() {
	app := fx.New(
		config.Module,
		logger.Module,
		tracing.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,

		fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
			if cfg.DatabaseURL == "" {
				// sqlite dev mode: schema comes from AutoMigrate below
				return autoMigrate(conn)
			}
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			return migration.RunMigrations(sqlDB)
		}),
		fx.Invoke(func(conn *gorm.DB) error {
			return seed.EnsureSandboxAccount(conn)
		}),

		audit.Module,
		charge.Module,
		refund.Module,
		events.Module,
		ledger.Module,
		gateway.Module,
		fx.Invoke(registerGatewayClients),
		fx.Provide(notificationRegistry),
		notification.Module,
		capture.Module,
		parity.Module,

		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}

func registerGatewayClients(registry *gateway.Registry, log *zap.Logger) {
	registry.Register("sandbox", gatewaysandbox.New(log))
}

func notificationRegistry(cfg config.Config) *notification.Registry {
	trusted := cfg.TrustedDomains()

	sandbox := notificationsandbox.Provider()
	if domain, ok := trusted[sandbox.Name]; ok {
		sandbox.VerifySender = true
		sandbox.TrustedDomain = domain
	}

	return notification.NewRegistry(sandbox)
}

func autoMigrate(conn *gorm.DB) error {
	return conn.AutoMigrate(
		&chargedomain.GatewayAccount{},
		&chargedomain.Charge{},
		&chargedomain.ChargeEvent{},
		&refunddomain.Refund{},
		&events.EmittedEvent{},
		&auditdomain.AuditLog{},
	)
}
