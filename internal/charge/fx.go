package charge

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"

	"github.com/alphagov/pay-connector-sub019/internal/cache"
	"github.com/alphagov/pay-connector-sub019/internal/charge/domain"
	"github.com/alphagov/pay-connector-sub019/internal/charge/repository"
	"github.com/alphagov/pay-connector-sub019/internal/charge/service"
	"github.com/alphagov/pay-connector-sub019/internal/config"
)

var Module = fx.Module("charge",
	fx.Provide(domain.NewStatusGraph),
	fx.Provide(repository.New),
	fx.Provide(func() cache.Cache[snowflake.ID, *domain.GatewayAccount] {
		return cache.NewTTLCache[snowflake.ID, *domain.GatewayAccount]()
	}),
	fx.Provide(service.New),
	fx.Provide(func(cfg config.Config) service.ExpiryConfig {
		return service.ExpiryConfig{
			SweepInterval: cfg.ExpirySweepInterval,
			Threshold:     cfg.ChargeExpiryThreshold,
		}
	}),
	fx.Provide(service.NewExpirySweeper),
	fx.Invoke(runExpirySweeper),
)

func runExpirySweeper(lc fx.Lifecycle, sweeper *service.ExpirySweeper) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go sweeper.RunForever(ctx)
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}
