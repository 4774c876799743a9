package metrics

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Config struct {
	ServiceName string
	Environment string
}

// LedgerMetrics captures reconciliation health signals.
type LedgerMetrics struct {
	passRuns       *prometheus.CounterVec
	passDuration   *prometheus.HistogramVec
	passErrors     *prometheus.CounterVec
	passConflicts  prometheus.Counter
	scanRetries    prometheus.Counter
	lateEvents     prometheus.Counter
	summaryWrites  *prometheus.CounterVec
	eventsRejected prometheus.Counter
	alertsRaised   *prometheus.CounterVec
}

var (
	ledgerMetricsOnce sync.Once
	ledgerMetrics     *LedgerMetrics
)

// Ledger returns the singleton ledger metrics registry.
func Ledger() *LedgerMetrics {
	return LedgerWithConfig(Config{})
}

// LedgerWithConfig returns the singleton ledger metrics registry using config labels.
func LedgerWithConfig(cfg Config) *LedgerMetrics {
	ledgerMetricsOnce.Do(func() {
		ledgerMetrics = newLedgerMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return ledgerMetrics
}

// ResetLedgerMetricsForTest resets the ledger metrics singleton for tests.
func ResetLedgerMetricsForTest() {
	ledgerMetricsOnce = sync.Once{}
	ledgerMetrics = nil
}

func newLedgerMetrics(registerer prometheus.Registerer, cfg Config) *LedgerMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "northmeter"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	m := &LedgerMetrics{
		passRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "northmeter_ledger_pass_runs_total",
			Help:        "Reconciliation passes started, by usage type.",
			ConstLabels: constLabels,
		}, []string{"usage_type"}),
		passDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "northmeter_ledger_pass_duration_seconds",
			Help:        "Reconciliation pass duration, by usage type.",
			ConstLabels: constLabels,
			Buckets:     prometheus.DefBuckets,
		}, []string{"usage_type"}),
		passErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "northmeter_ledger_pass_errors_total",
			Help:        "Reconciliation passes that failed after retries.",
			ConstLabels: constLabels,
		}, []string{"usage_type", "reason"}),
		passConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "northmeter_ledger_pass_conflicts_total",
			Help:        "Passes aborted because the pair lock was already held.",
			ConstLabels: constLabels,
		}),
		scanRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "northmeter_ledger_scan_retries_total",
			Help:        "Event store scans retried after transient errors.",
			ConstLabels: constLabels,
		}),
		lateEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "northmeter_ledger_late_events_total",
			Help:        "Events first counted by a lookback re-scan.",
			ConstLabels: constLabels,
		}),
		summaryWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "northmeter_ledger_summary_writes_total",
			Help:        "Usage summary versions written, by pass kind.",
			ConstLabels: constLabels,
		}, []string{"kind"}),
		eventsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "northmeter_ingest_events_rejected_total",
			Help:        "Raw events rejected at the edge for unknown kinds.",
			ConstLabels: constLabels,
		}),
		alertsRaised: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "northmeter_alerts_raised_total",
			Help:        "Operator alerts raised, by code.",
			ConstLabels: constLabels,
		}, []string{"code"}),
	}

	registerer.MustRegister(
		m.passRuns,
		m.passDuration,
		m.passErrors,
		m.passConflicts,
		m.scanRetries,
		m.lateEvents,
		m.summaryWrites,
		m.eventsRejected,
		m.alertsRaised,
	)
	return m
}

func (m *LedgerMetrics) IncPassRun(usageType string) {
	m.passRuns.WithLabelValues(usageType).Inc()
}

func (m *LedgerMetrics) ObservePassDuration(usageType string, d time.Duration) {
	m.passDuration.WithLabelValues(usageType).Observe(d.Seconds())
}

func (m *LedgerMetrics) IncPassError(usageType, reason string) {
	m.passErrors.WithLabelValues(usageType, reason).Inc()
}

func (m *LedgerMetrics) IncPassConflict() { m.passConflicts.Inc() }

func (m *LedgerMetrics) IncScanRetry() { m.scanRetries.Inc() }

func (m *LedgerMetrics) AddLateEvents(n int) {
	if n > 0 {
		m.lateEvents.Add(float64(n))
	}
}

// IncSummaryWrite records a summary version write; kind is "initial" for
// pass 0 and "correction" for superseding versions.
func (m *LedgerMetrics) IncSummaryWrite(kind string) {
	m.summaryWrites.WithLabelValues(kind).Inc()
}

func (m *LedgerMetrics) IncEventRejected() { m.eventsRejected.Inc() }

func (m *LedgerMetrics) IncAlertRaised(code string) {
	m.alertsRaised.WithLabelValues(code).Inc()
}
