package ledger

import (
	"context"

	"go.uber.org/fx"
)

var Module = fx.Module("ledger",
	fx.Provide(ProvideConfig),
	fx.Provide(NewReconciler),
	fx.Provide(NewScheduler),
	fx.Invoke(StartScheduler),
)

func StartScheduler(lc fx.Lifecycle, sched *Scheduler) {
	ctx, cancel := context.WithCancel(context.Background())

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go sched.RunForever(ctx)
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}
