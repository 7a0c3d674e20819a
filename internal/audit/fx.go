package audit

import (
	"go.uber.org/fx"

	"github.com/alphagov/pay-connector-sub019/internal/audit/repository"
	"github.com/alphagov/pay-connector-sub019/internal/audit/service"
)

var Module = fx.Module("audit",
	fx.Provide(repository.New),
	fx.Provide(service.New),
)
