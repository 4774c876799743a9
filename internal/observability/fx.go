package observability

import (
	"github.com/northmeter/ledger/internal/config"
	"github.com/northmeter/ledger/internal/observability/metrics"
	"go.uber.org/fx"
)

var Module = fx.Module("observability",
	fx.Provide(provideMetricsConfig),
	fx.Invoke(ensureLedgerMetrics),
)

func provideMetricsConfig(cfg config.Config) metrics.Config {
	return metrics.Config{
		ServiceName: cfg.AppName,
		Environment: cfg.Environment,
	}
}

// ensureLedgerMetrics registers the ledger collectors with the service
// labels before the first pass runs.
func ensureLedgerMetrics(cfg metrics.Config) {
	metrics.LedgerWithConfig(cfg)
}
