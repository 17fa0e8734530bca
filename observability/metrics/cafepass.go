package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// CafepassMetrics bundles the counters and gauges tracked by the core.
type CafepassMetrics struct {
	codesIssued    prometheus.Counter
	codesRetired   prometheus.Counter
	codeCollisions prometheus.Counter
	codesResolved  *prometheus.CounterVec
	activeCodes    prometheus.Gauge
	adjustments    *prometheus.CounterVec
	casConflicts   *prometheus.CounterVec
}

var (
	cafepassOnce     sync.Once
	cafepassRegistry *CafepassMetrics
)

// Cafepass returns the process-wide metrics bundle, registering it on first use.
func Cafepass() *CafepassMetrics {
	cafepassOnce.Do(func() {
		cafepassRegistry = &CafepassMetrics{
			codesIssued: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "cafepass_codes_issued_total",
				Help: "Count of freshly allocated identity codes.",
			}),
			codesRetired: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "cafepass_codes_retired_total",
				Help: "Count of soft-retired identity codes.",
			}),
			codeCollisions: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "cafepass_code_collisions_total",
				Help: "Count of candidate codes rejected because the value was taken.",
			}),
			codesResolved: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "cafepass_codes_resolved_total",
				Help: "Count of code resolution attempts by outcome.",
			}, []string{"outcome"}),
			activeCodes: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "cafepass_active_codes",
				Help: "Number of currently active identity codes.",
			}),
			adjustments: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "cafepass_loyalty_adjustments_total",
				Help: "Count of applied balance deltas by outcome.",
			}, []string{"outcome"}),
			casConflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "cafepass_cas_conflicts_total",
				Help: "Count of conditional writes that lost a race, by component.",
			}, []string{"component"}),
		}
		prometheus.MustRegister(
			cafepassRegistry.codesIssued,
			cafepassRegistry.codesRetired,
			cafepassRegistry.codeCollisions,
			cafepassRegistry.codesResolved,
			cafepassRegistry.activeCodes,
			cafepassRegistry.adjustments,
			cafepassRegistry.casConflicts,
		)
	})
	return cafepassRegistry
}

// ObserveCodeIssued records one fresh allocation.
func (m *CafepassMetrics) ObserveCodeIssued() {
	if m == nil {
		return
	}
	m.codesIssued.Inc()
}

// ObserveCodeRetired records one soft retirement.
func (m *CafepassMetrics) ObserveCodeRetired() {
	if m == nil {
		return
	}
	m.codesRetired.Inc()
}

// ObserveCodeCollisions records the rejected candidate values behind one
// allocation.
func (m *CafepassMetrics) ObserveCodeCollisions(count int) {
	if m == nil || count <= 0 {
		return
	}
	m.codeCollisions.Add(float64(count))
}

// ObserveCodeResolved records a resolve attempt by outcome.
func (m *CafepassMetrics) ObserveCodeResolved(outcome string) {
	if m == nil {
		return
	}
	if outcome == "" {
		outcome = "unknown"
	}
	m.codesResolved.WithLabelValues(outcome).Inc()
}

// SetActiveCodes publishes the active-record counter.
func (m *CafepassMetrics) SetActiveCodes(count float64) {
	if m == nil {
		return
	}
	m.activeCodes.Set(count)
}

// ObserveAdjustment records a ledger delta by outcome.
func (m *CafepassMetrics) ObserveAdjustment(outcome string) {
	if m == nil {
		return
	}
	if outcome == "" {
		outcome = "unknown"
	}
	m.adjustments.WithLabelValues(outcome).Inc()
}

// ObserveCASConflict records a lost conditional write for the component.
func (m *CafepassMetrics) ObserveCASConflict(component string) {
	if m == nil {
		return
	}
	if component == "" {
		component = "unknown"
	}
	m.casConflicts.WithLabelValues(component).Inc()
}
