package observability

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type cycleMetrics struct {
	cycles       prometheus.Counter
	cycleErrors  prometheus.Counter
	liquidations *prometheus.CounterVec
	interest     prometheus.Counter
	yield        prometheus.Counter
	valuations   prometheus.Counter
}

var (
	cycleMetricsOnce sync.Once
	cycleRegistry    *cycleMetrics
)

// Cycle returns the metrics registry tracking processing-cycle activity.
func Cycle() *cycleMetrics {
	cycleMetricsOnce.Do(func() {
		cycleRegistry = &cycleMetrics{
			cycles: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "vaultlend",
				Subsystem: "cycle",
				Name:      "runs_total",
				Help:      "Count of completed processing cycles.",
			}),
			cycleErrors: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "vaultlend",
				Subsystem: "cycle",
				Name:      "entity_errors_total",
				Help:      "Count of per-entity failures skipped during cycles.",
			}),
			liquidations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "vaultlend",
				Subsystem: "loans",
				Name:      "liquidations_total",
				Help:      "Count of liquidations segmented by kind.",
			}, []string{"kind"}),
			interest: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "vaultlend",
				Subsystem: "loans",
				Name:      "interest_accruals_total",
				Help:      "Count of loans that accrued interest.",
			}),
			yield: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "vaultlend",
				Subsystem: "assets",
				Name:      "yield_distributions_total",
				Help:      "Count of assets that received a yield distribution.",
			}),
			valuations: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "vaultlend",
				Subsystem: "assets",
				Name:      "valuations_updated_total",
				Help:      "Count of oracle valuation updates applied.",
			}),
		}
		prometheus.MustRegister(
			cycleRegistry.cycles,
			cycleRegistry.cycleErrors,
			cycleRegistry.liquidations,
			cycleRegistry.interest,
			cycleRegistry.yield,
			cycleRegistry.valuations,
		)
	})
	return cycleRegistry
}

// RecordRun increments the completed-cycle counter.
func (m *cycleMetrics) RecordRun() {
	if m == nil {
		return
	}
	m.cycles.Inc()
}

// RecordEntityError counts an entity skipped due to a processing failure.
func (m *cycleMetrics) RecordEntityError() {
	if m == nil {
		return
	}
	m.cycleErrors.Inc()
}

// RecordLiquidation increments the liquidation counter for the given kind.
func (m *cycleMetrics) RecordLiquidation(kind string) {
	if m == nil {
		return
	}
	normalized := strings.TrimSpace(strings.ToLower(kind))
	if normalized == "" {
		normalized = "unknown"
	}
	m.liquidations.WithLabelValues(normalized).Inc()
}

// RecordInterestAccrual counts a loan that accrued interest.
func (m *cycleMetrics) RecordInterestAccrual() {
	if m == nil {
		return
	}
	m.interest.Inc()
}

// RecordYieldDistribution counts an asset that received yield.
func (m *cycleMetrics) RecordYieldDistribution() {
	if m == nil {
		return
	}
	m.yield.Inc()
}

// RecordValuationUpdate counts an applied oracle revaluation.
func (m *cycleMetrics) RecordValuationUpdate() {
	if m == nil {
		return
	}
	m.valuations.Inc()
}
