package ledger

import (
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/alphagov/pay-connector-sub019/internal/config"
	"github.com/alphagov/pay-connector-sub019/internal/events"
)

var Module = fx.Module("ledger",
	fx.Provide(func(cfg config.Config, log *zap.Logger) ReadClient {
		return NewHTTPReadClient(cfg.LedgerBaseURL, cfg.LedgerTimeout, log)
	}),
	fx.Provide(func(cfg config.Config, log *zap.Logger) events.Sink {
		return NewHTTPSink(cfg.LedgerBaseURL, cfg.LedgerTimeout, log)
	}),
)
