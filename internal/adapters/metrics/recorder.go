// Package metrics exports engine counters to Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/hylla/shiftsync/internal/app"
	"github.com/hylla/shiftsync/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "shiftsync"

// Recorder implements app.Recorder over a private registry.
type Recorder struct {
	registry *prometheus.Registry

	writesTotal  *prometheus.CounterVec
	writeLatency *prometheus.HistogramVec
	locksTotal   *prometheus.CounterVec
	opsServed    prometheus.Counter
	subscribers  prometheus.Gauge
}

var _ app.Recorder = (*Recorder)(nil)

// NewRecorder registers engine metrics plus Go runtime collectors on a fresh registry.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)
	return &Recorder{
		registry: reg,
		writesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "writes_total",
			Help:      "Total number of coordinated cell writes by outcome.",
		}, []string{"outcome"}),
		writeLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "write_latency_seconds",
			Help:      "Latency distribution for coordinated cell writes.",
			Buckets: []float64{
				0.0005, 0.001, 0.002, 0.005,
				0.01, 0.02, 0.05,
				0.1, 0.2, 0.5, 1,
			},
		}, []string{"outcome"}),
		locksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lock_actions_total",
			Help:      "Total number of soft-lock transitions.",
		}, []string{"action", "locked", "risk"}),
		opsServed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ops_served_total",
			Help:      "Total number of operations served to catch-up readers and subscribers.",
		}),
		subscribers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "feed_subscribers",
			Help:      "Current number of open change-feed subscriptions.",
		}),
	}
}

// ObserveWrite counts one write outcome.
func (r *Recorder) ObserveWrite(outcome app.WriteOutcome, elapsed time.Duration) {
	label := string(outcome)
	r.writesTotal.WithLabelValues(label).Inc()
	r.writeLatency.WithLabelValues(label).Observe(elapsed.Seconds())
}

// ObserveLock counts one lock transition.
func (r *Recorder) ObserveLock(action domain.LockAction, locked, risk bool) {
	r.locksTotal.WithLabelValues(string(action), strconv.FormatBool(locked), strconv.FormatBool(risk)).Inc()
}

// ObserveOpsServed counts delivered operations.
func (r *Recorder) ObserveOpsServed(count int) {
	if count > 0 {
		r.opsServed.Add(float64(count))
	}
}

// SubscriberOpened tracks one new subscription.
func (r *Recorder) SubscriberOpened() {
	r.subscribers.Inc()
}

// SubscriberClosed tracks one ended subscription.
func (r *Recorder) SubscriberClosed() {
	r.subscribers.Dec()
}

// Registry returns the backing registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
