package auth

import (
	"go.uber.org/fx"
)

// Module provides the authorization flow
var Module = fx.Module("auth",
	fx.Provide(NewFlow),
)
