package parity

import "go.uber.org/fx"

var Module = fx.Module("parity",
	fx.Provide(NewChecker),
)
