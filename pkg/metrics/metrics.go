// Package metrics defines the Prometheus collectors for the relay loop and
// exposes an HTTP server for scraping and health probes.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "relay"

// Metrics holds all Prometheus collectors for the relay.
type Metrics struct {
	RecordsPolled     prometheus.Counter
	RecordsMalformed  prometheus.Counter
	BatchSize         prometheus.Histogram
	BulkRequestsTotal *prometheus.CounterVec
	BulkItemsTotal    *prometheus.CounterVec
	BulkLatency       prometheus.Histogram
	BulkRetriesTotal  prometheus.Counter
	CommitsTotal      *prometheus.CounterVec
	CycleDuration     prometheus.Histogram
	LoopState         prometheus.Gauge

	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	gatherer prometheus.Gatherer
}

// New creates the relay collectors and registers them with reg. When reg is
// nil a private registry is used so tests and multiple loops never collide on
// the global default registry.
func New(reg prometheus.Registerer) *Metrics {
	var gatherer prometheus.Gatherer = prometheus.DefaultGatherer
	if reg == nil {
		r := prometheus.NewRegistry()
		reg, gatherer = r, r
	} else if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}
	m := &Metrics{
		RecordsPolled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_polled_total",
			Help:      "Total records returned by consumer polls.",
		}),
		RecordsMalformed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_malformed_total",
			Help:      "Records skipped because their payload was not a JSON object.",
		}),
		BatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_size",
			Help:      "Number of records per non-empty poll.",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		}),
		BulkRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bulk_requests_total",
			Help:      "Bulk write requests by outcome (success, error).",
		}, []string{"status"}),
		BulkItemsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bulk_items_total",
			Help:      "Bulk items by result (indexed, failed).",
		}, []string{"result"}),
		BulkLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "bulk_latency_seconds",
			Help:      "Bulk write latency in seconds, including retries.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		BulkRetriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bulk_retries_total",
			Help:      "Bulk write attempts repeated after a retryable failure.",
		}),
		CommitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commits_total",
			Help:      "Consumer offset commits by outcome (success, error).",
		}, []string{"status"}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Duration of a full poll-write-commit cycle.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		LoopState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "loop_state",
			Help:      "Loop state (0=running, 1=draining, 2=stopped).",
		}),
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Requests served by the probe and scrape server.",
		}, []string{"method", "path", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Probe and scrape request latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
		HTTPRequestsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_in_flight",
			Help:      "Probe and scrape requests currently being served.",
		}),
		gatherer: gatherer,
	}

	reg.MustRegister(
		m.RecordsPolled,
		m.RecordsMalformed,
		m.BatchSize,
		m.BulkRequestsTotal,
		m.BulkItemsTotal,
		m.BulkLatency,
		m.BulkRetriesTotal,
		m.CommitsTotal,
		m.CycleDuration,
		m.LoopState,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
	)
	return m
}

// ObserveBulk records the outcome of one bulk write.
func (m *Metrics) ObserveBulk(elapsed time.Duration, indexed, failed int, err error) {
	m.BulkLatency.Observe(elapsed.Seconds())
	if err != nil {
		m.BulkRequestsTotal.WithLabelValues("error").Inc()
		return
	}
	m.BulkRequestsTotal.WithLabelValues("success").Inc()
	m.BulkItemsTotal.WithLabelValues("indexed").Add(float64(indexed))
	m.BulkItemsTotal.WithLabelValues("failed").Add(float64(failed))
}

// ObserveCommit records the outcome of one offset commit.
func (m *Metrics) ObserveCommit(err error) {
	if err != nil {
		m.CommitsTotal.WithLabelValues("error").Inc()
		return
	}
	m.CommitsTotal.WithLabelValues("success").Inc()
}

// Handler returns the Prometheus scrape HTTP handler for the registry these
// metrics were registered with.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
