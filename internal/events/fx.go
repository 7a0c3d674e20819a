package events

import (
	"context"

	"go.uber.org/fx"

	"github.com/alphagov/pay-connector-sub019/internal/config"
)

var Module = fx.Module("events",
	fx.Provide(NewOutbox),
	fx.Provide(func(cfg config.Config) SweeperConfig {
		return SweeperConfig{
			SweepInterval: cfg.EmissionSweepInterval,
			Cutoff:        cfg.EmissionCutoff,
			BatchSize:     cfg.EmissionBatchSize,
			RetryBackoff:  cfg.EmissionRetryBackoff,
		}
	}),
	fx.Provide(NewSweeper),
	fx.Invoke(runSweeper),
)

func runSweeper(lc fx.Lifecycle, sweeper *Sweeper) {
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
