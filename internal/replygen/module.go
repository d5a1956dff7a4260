package replygen

import (
	"go.uber.org/fx"
)

// Module provides the reply generator
var Module = fx.Module("replygen",
	fx.Provide(NewGenerator),
)
