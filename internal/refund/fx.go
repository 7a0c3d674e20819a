package refund

import (
	"go.uber.org/fx"

	"github.com/alphagov/pay-connector-sub019/internal/refund/repository"
)

var Module = fx.Module("refund",
	fx.Provide(repository.New),
)
