package twitter

import (
	"go.uber.org/fx"
)

// Module provides the provider client
var Module = fx.Module("twitter",
	fx.Provide(NewClient),
)
