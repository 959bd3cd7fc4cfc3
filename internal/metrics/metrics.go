// Package metrics provides Prometheus metrics for asset resolution and
// classification storage.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Submission outcomes used as the "result" label.
const (
	ResultSuccess    = "success"
	ResultValidation = "validation"
	ResultBackend    = "backend"
)

// Metrics contains the collectors shared by the resolver and the stores.
// All methods are safe to call on a nil receiver.
type Metrics struct {
	ProbesTotal        *prometheus.CounterVec
	AssetMisses        prometheus.Counter
	PlaceholdersServed prometheus.Counter
	ProbeCacheHits     prometheus.Counter
	ProbeDuration      prometheus.Histogram
	StoreOperations    *prometheus.CounterVec
}

// New creates the collectors and registers them with registry.
func New(registry prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		ProbesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "asset_probes_total",
			Help: "Total number of asset candidate probes by outcome.",
		}, []string{"outcome"}),
		AssetMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "asset_resolution_misses_total",
			Help: "Resolutions where no candidate location held the asset.",
		}),
		PlaceholdersServed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "asset_placeholders_served_total",
			Help: "Placeholder URLs returned instead of a real asset.",
		}),
		ProbeCacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "asset_probe_cache_hits_total",
			Help: "Probes answered from the probe cache.",
		}),
		ProbeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "asset_probe_duration_seconds",
			Help:    "Duration of asset candidate probes in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 10),
		}),
		StoreOperations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "classification_store_operations_total",
			Help: "Classification store operations by action and result.",
		}, []string{"action", "result"}),
	}

	for _, c := range []prometheus.Collector{
		m.ProbesTotal, m.AssetMisses, m.PlaceholdersServed,
		m.ProbeCacheHits, m.ProbeDuration, m.StoreOperations,
	} {
		if err := registry.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register metrics: %w", err)
		}
	}

	return m, nil
}

// ObserveProbe records one candidate probe.
func (m *Metrics) ObserveProbe(found bool, seconds float64) {
	if m == nil {
		return
	}
	outcome := "miss"
	if found {
		outcome = "hit"
	}
	m.ProbesTotal.WithLabelValues(outcome).Inc()
	m.ProbeDuration.Observe(seconds)
}

// IncrementProbeCacheHits counts a probe answered from cache.
func (m *Metrics) IncrementProbeCacheHits() {
	if m == nil {
		return
	}
	m.ProbeCacheHits.Inc()
}

// IncrementPlaceholders counts a resolution that ended in a placeholder.
func (m *Metrics) IncrementPlaceholders() {
	if m == nil {
		return
	}
	m.AssetMisses.Inc()
	m.PlaceholdersServed.Inc()
}

// ObserveStore records the result of a store action ("save" or "flag").
func (m *Metrics) ObserveStore(action, result string) {
	if m == nil {
		return
	}
	m.StoreOperations.WithLabelValues(action, result).Inc()
}
