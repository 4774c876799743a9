package usageevent

import "go.uber.org/fx"

var Module = fx.Module("usageevent",
	fx.Provide(NewService),
	fx.Provide(NewReader),
)
