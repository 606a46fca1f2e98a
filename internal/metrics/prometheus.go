// Package metrics exposes Prometheus metrics for toggles and refreshes.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once     sync.Once
	registry *Registry
)

// Registry holds all daemon metrics.
type Registry struct {
	gatherer prometheus.Gatherer

	// Toggle metrics
	ToggleRequests *prometheus.CounterVec
	ToggleDuration *prometheus.HistogramVec
	Controllers    prometheus.Gauge

	// Refresh metrics
	Refreshes       *prometheus.CounterVec
	RefreshDuration prometheus.Histogram
	SnapshotSeq     prometheus.Gauge
	SnapshotRecords *prometheus.GaugeVec
	SnapshotAge     prometheus.Gauge
}

// Get returns the process-wide registry bound to the default Prometheus registerer.
func Get() *Registry {
	once.Do(func() {
		registry = NewRegistry(prometheus.DefaultRegisterer, prometheus.DefaultGatherer)
	})
	return registry
}

// NewRegistry registers all metrics with reg.
func NewRegistry(reg prometheus.Registerer, gatherer prometheus.Gatherer) *Registry {
	factory := promauto.With(reg)
	r := &Registry{gatherer: gatherer}

	r.ToggleRequests = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "toggled_toggle_requests_total",
		Help: "Toggle requests by entity type and outcome",
	}, []string{"type", "outcome"})

	r.ToggleDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "toggled_toggle_duration_seconds",
		Help:    "Time from toggle request to completion",
		Buckets: prometheus.DefBuckets,
	}, []string{"type"})

	r.Controllers = factory.NewGauge(prometheus.GaugeOpts{
		Name: "toggled_controllers",
		Help: "Number of live toggle controllers",
	})

	r.Refreshes = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "toggled_refresh_total",
		Help: "Snapshot refreshes by result",
	}, []string{"result"})

	r.RefreshDuration = factory.NewHistogram(prometheus.HistogramOpts{
		Name:    "toggled_refresh_duration_seconds",
		Help:    "Time taken to fetch a snapshot from the router",
		Buckets: prometheus.DefBuckets,
	})

	r.SnapshotSeq = factory.NewGauge(prometheus.GaugeOpts{
		Name: "toggled_snapshot_seq",
		Help: "Sequence number of the installed snapshot",
	})

	r.SnapshotRecords = factory.NewGaugeVec(prometheus.GaugeOpts{
		Name: "toggled_snapshot_records",
		Help: "Records per collection in the installed snapshot",
	}, []string{"collection"})

	r.SnapshotAge = factory.NewGauge(prometheus.GaugeOpts{
		Name: "toggled_snapshot_taken_timestamp_seconds",
		Help: "Unix time the installed snapshot was fetched",
	})

	return r
}

// ObserveToggle records one toggle request.
func (r *Registry) ObserveToggle(entityType, outcome string, d time.Duration) {
	if r == nil {
		return
	}
	r.ToggleRequests.WithLabelValues(entityType, outcome).Inc()
	r.ToggleDuration.WithLabelValues(entityType).Observe(d.Seconds())
}

// ObserveRefresh records one refresh attempt.
func (r *Registry) ObserveRefresh(err error, d time.Duration) {
	if r == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	r.Refreshes.WithLabelValues(result).Inc()
	r.RefreshDuration.Observe(d.Seconds())
}

// SetSnapshot records the shape of a newly installed snapshot.
func (r *Registry) SetSnapshot(seq uint64, taken time.Time, counts map[string]int) {
	if r == nil {
		return
	}
	r.SnapshotSeq.Set(float64(seq))
	r.SnapshotAge.Set(float64(taken.Unix()))
	r.SnapshotRecords.Reset()
	for coll, n := range counts {
		r.SnapshotRecords.WithLabelValues(coll).Set(float64(n))
	}
}

// Handler serves the registry's metrics in the Prometheus text format.
func (r *Registry) Handler() http.Handler {
	if r == nil || r.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})
}
