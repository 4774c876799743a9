package ledger

import (
	"time"

	appconfig "github.com/northmeter/ledger/internal/config"
)

// Config carries the ledger tunables. Zero values fall back to defaults
// so tests can construct partial configs.
type Config struct {
	LookbackWindow    time.Duration
	SafetyMargin      time.Duration
	PeriodLength      time.Duration
	MaxPassesRetained int
	MaxScanAttempts   int
	ScanRetryBackoff  time.Duration
	Interval          time.Duration
	PassTimeout       time.Duration
	Workers           int
	BatchSize         int
}

func (c Config) withDefaults() Config {
	if c.LookbackWindow <= 0 {
		c.LookbackWindow = 72 * time.Hour
	}
	if c.SafetyMargin <= 0 {
		c.SafetyMargin = 5 * time.Minute
	}
	if c.PeriodLength <= 0 {
		c.PeriodLength = 24 * time.Hour
	}
	if c.MaxPassesRetained <= 0 {
		c.MaxPassesRetained = 32
	}
	if c.MaxScanAttempts <= 0 {
		c.MaxScanAttempts = 3
	}
	if c.ScanRetryBackoff <= 0 {
		c.ScanRetryBackoff = 2 * time.Second
	}
	if c.Interval <= 0 {
		c.Interval = time.Minute
	}
	if c.PassTimeout <= 0 {
		c.PassTimeout = 2 * time.Minute
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	return c
}

func ProvideConfig(cfg appconfig.Config) Config {
	return Config{
		LookbackWindow:    cfg.LookbackWindow,
		SafetyMargin:      cfg.SafetyMargin,
		PeriodLength:      cfg.PeriodLength,
		MaxPassesRetained: cfg.MaxPassesRetained,
		MaxScanAttempts:   cfg.MaxScanAttempts,
		ScanRetryBackoff:  cfg.ScanRetryBackoff,
		Interval:          cfg.ReconcileInterval,
		PassTimeout:       cfg.ReconcilePassTimeout,
		Workers:           cfg.ReconcileWorkers,
		BatchSize:         cfg.ReconcileBatchSize,
	}.withDefaults()
}
