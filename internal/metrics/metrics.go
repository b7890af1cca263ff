// Package metrics exposes Prometheus instrumentation for the polling cycle.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/afroash/parking-monitor/internal/poller"
)

const (
	namespace = "parking"

	resultSuccess = "success"
	resultError   = "error"
)

// Metrics holds the collectors updated after every refresh
type Metrics struct {
	gatherer prometheus.Gatherer

	fetchTotal      *prometheus.CounterVec
	fetchDuration   prometheus.Histogram
	recordsDropped  prometheus.Counter
	readingsIngest  prometheus.Counter
	spots           *prometheus.GaugeVec
	tableRows       prometheus.Gauge
	lastSuccessUnix prometheus.Gauge
}

// New creates the collectors and registers them on reg.
// A nil reg uses a fresh private registry.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	m := &Metrics{
		gatherer: reg,
		fetchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_total",
			Help:      "Upstream fetches by result.",
		}, []string{"result"}),
		fetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Upstream fetch duration.",
			Buckets:   prometheus.DefBuckets,
		}),
		recordsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_dropped_total",
			Help:      "Upstream records without a usable spots count.",
		}),
		readingsIngest: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "readings_ingested_total",
			Help:      "Readings added to the table.",
		}),
		spots: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "spots",
			Help:      "Latest available spots per sensor.",
		}, []string{"sensor"}),
		tableRows: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "table_rows",
			Help:      "Readings currently held in memory.",
		}),
		lastSuccessUnix: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful fetch.",
		}),
	}

	reg.MustRegister(
		m.fetchTotal,
		m.fetchDuration,
		m.recordsDropped,
		m.readingsIngest,
		m.spots,
		m.tableRows,
		m.lastSuccessUnix,
	)

	// expose both series from the start
	m.fetchTotal.WithLabelValues(resultSuccess)
	m.fetchTotal.WithLabelValues(resultError)

	return m
}

// Observe records one refresh outcome. It has the poller.Listener signature.
func (m *Metrics) Observe(u poller.Update) {
	m.fetchDuration.Observe(u.Duration.Seconds())

	if u.Err != nil {
		m.fetchTotal.WithLabelValues(resultError).Inc()
		return
	}

	m.fetchTotal.WithLabelValues(resultSuccess).Inc()
	m.recordsDropped.Add(float64(u.Stats.Dropped))
	m.readingsIngest.Add(float64(len(u.Added)))
	m.tableRows.Set(float64(len(u.Snapshot.Readings)))
	m.lastSuccessUnix.Set(float64(u.Snapshot.LastSuccess.Unix()))

	// sensors trimmed out of the window fall back to unknown
	m.spots.Reset()
	for id, n := range u.Snapshot.Latest {
		m.spots.WithLabelValues(id).Set(float64(n))
	}
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
