package emissions

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for the emissions store and service.
type Metrics struct {
	MutationsTotal   *prometheus.CounterVec
	PersistDuration  prometheus.Histogram
	ImportRowsTotal  *prometheus.CounterVec
	TriageBucket     *prometheus.CounterVec
	SLABreachedCount prometheus.Gauge
}

// NewMetrics registers and returns emissions metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		MutationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "plume_store_mutations_total",
			Help: "Store mutations by operation and result.",
		}, []string{"op", "result"}),
		PersistDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "plume_store_persist_duration_seconds",
			Help:    "Duration of full-table persists in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12), // 0.5ms .. ~1s
		}),
		ImportRowsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "plume_import_rows_total",
			Help: "Imported event rows by result.",
		}, []string{"result"}),
		TriageBucket: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "plume_triage_bucket_total",
			Help: "Event views built, by triage bucket.",
		}, []string{"bucket"}),
		SLABreachedCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "plume_sla_breached_events",
			Help: "Events with a breached SLA as of the last full listing.",
		}),
	}

	reg.MustRegister(
		m.MutationsTotal,
		m.PersistDuration,
		m.ImportRowsTotal,
		m.TriageBucket,
		m.SLABreachedCount,
	)

	return m
}

// PersistHook returns a callback for stores that observes persist durations.
func (m *Metrics) PersistHook() func(time.Duration) {
	if m == nil {
		return nil
	}
	return func(d time.Duration) {
		m.PersistDuration.Observe(d.Seconds())
	}
}

func (m *Metrics) mutation(op, result string) {
	if m == nil {
		return
	}
	m.MutationsTotal.WithLabelValues(op, result).Inc()
}

func (m *Metrics) importRows(imported, skipped int) {
	if m == nil {
		return
	}
	m.ImportRowsTotal.WithLabelValues("imported").Add(float64(imported))
	m.ImportRowsTotal.WithLabelValues("skipped").Add(float64(skipped))
}

func (m *Metrics) bucket(b Bucket) {
	if m == nil {
		return
	}
	m.TriageBucket.WithLabelValues(string(b)).Inc()
}

func (m *Metrics) breached(n int) {
	if m == nil {
		return
	}
	m.SLABreachedCount.Set(float64(n))
}
