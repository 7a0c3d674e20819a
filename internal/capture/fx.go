package capture

import (
	"context"

	"go.uber.org/fx"

	"github.com/alphagov/pay-connector-sub019/internal/config"
)

var Module = fx.Module("capture",
	fx.Provide(func(cfg config.Config) Config {
		return Config{
			PollInterval:   cfg.CapturePollInterval,
			BatchSize:      cfg.CaptureBatchSize,
			Workers:        cfg.CaptureWorkers,
			MaxAttempts:    cfg.CaptureMaxAttempts,
			RetryDelay:     cfg.CaptureRetryDelay,
			ClaimTimeout:   cfg.CaptureClaimTimeout,
			GatewayTimeout: cfg.GatewayTimeout,
		}
	}),
	fx.Provide(NewWorker),
	fx.Provide(NewClaimSweeper),
	fx.Invoke(runWorkers),
)

func runWorkers(lc fx.Lifecycle, worker *Worker, claims *ClaimSweeper) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go worker.RunForever(ctx)
			go claims.RunForever(ctx)
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}
