// Package metrics exposes session-layer counters to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome values used as the "outcome" label.
const (
	OutcomeSuccess = "success"
)

// Recorder is what the session service and the janitor report to.
type Recorder interface {
	// RecordOperation records one session operation. outcome is
	// OutcomeSuccess or the autherr kind name of the failure.
	RecordOperation(op, outcome string, d time.Duration)
	RecordTokenIssued(kind string)
	RecordTokensPurged(n int64)
}

// Collector is the Prometheus Recorder.
type Collector struct {
	operations   *prometheus.CounterVec
	latency      *prometheus.HistogramVec
	tokensIssued *prometheus.CounterVec
	tokensPurged prometheus.Counter
}

var _ Recorder = (*Collector)(nil)

// NewCollector creates a Collector and registers its metrics with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gophauth_operations_total",
			Help: "Session operations by name and outcome.",
		}, []string{"op", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gophauth_operation_duration_seconds",
			Help:    "Session operation latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
		tokensIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gophauth_tokens_issued_total",
			Help: "Tokens issued by kind.",
		}, []string{"kind"}),
		tokensPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gophauth_tokens_purged_total",
			Help: "Expired tokens removed by the janitor.",
		}),
	}

	reg.MustRegister(
		c.operations,
		c.latency,
		c.tokensIssued,
		c.tokensPurged,
	)

	return c
}

func (c *Collector) RecordOperation(op, outcome string, d time.Duration) {
	c.operations.WithLabelValues(op, outcome).Inc()
	c.latency.WithLabelValues(op).Observe(d.Seconds())
}

func (c *Collector) RecordTokenIssued(kind string) {
	c.tokensIssued.WithLabelValues(kind).Inc()
}

func (c *Collector) RecordTokensPurged(n int64) {
	if n > 0 {
		c.tokensPurged.Add(float64(n))
	}
}

// Nop discards everything.
type Nop struct{}

var _ Recorder = Nop{}

func (Nop) RecordOperation(string, string, time.Duration) {}
func (Nop) RecordTokenIssued(string)                      {}
func (Nop) RecordTokensPurged(int64)                      {}

// Handler returns the Prometheus scrape handler for gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute returns a mux serving /metrics.
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}
