package dispatch

import (
	"go.uber.org/fx"
)

// Module provides the action dispatcher
var Module = fx.Module("dispatch",
	fx.Provide(NewDispatcher),
)
