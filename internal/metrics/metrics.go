// Package metrics exposes Prometheus counters and gauges for the offload
// engine, adapted from the teacher's queue metrics (spec.md §2.12): request
// submission/completion/cancellation/error counts, handshake duration, and
// active worker count.
//
// Unlike the teacher's Collector, this one registers against its own
// prometheus.Registry instead of the global default registry, so multiple
// Collectors (one per test, one per engine instance) never collide on
// duplicate registration.
package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector collects the engine's Prometheus metrics.
type Collector struct {
	registry *prometheus.Registry

	submitted  prometheus.Counter
	dispatched prometheus.Counter
	completed  prometheus.Counter
	cancelled  prometheus.Counter
	failed     prometheus.Counter

	requestLatency  prometheus.Histogram
	handshakeTime   prometheus.Histogram
	activeWorkers   prometheus.Gauge
	submissionDepth prometheus.Gauge
}

// NewCollector creates a Collector registered against a fresh registry.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		submitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "offload_requests_submitted_total",
			Help: "Total number of work requests submitted",
		}),
		dispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "offload_requests_dispatched_total",
			Help: "Total number of work requests handed to a worker",
		}),
		completed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "offload_requests_completed_total",
			Help: "Total number of work requests that completed successfully",
		}),
		cancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "offload_requests_cancelled_total",
			Help: "Total number of work requests cancelled before completion",
		}),
		failed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "offload_requests_failed_total",
			Help: "Total number of work requests that raised an error",
		}),
		requestLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "offload_request_latency_seconds",
			Help:    "End-to-end latency from submission to a terminal state",
			Buckets: prometheus.DefBuckets,
		}),
		handshakeTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "offload_handshake_seconds",
			Help:    "Time from the first handshake broadcast to every worker acknowledging",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20},
		}),
		activeWorkers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "offload_active_workers",
			Help: "Current number of running workers",
		}),
		submissionDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "offload_submission_queue_depth",
			Help: "Current number of requests waiting in the submission queue",
		}),
	}

	c.registry.MustRegister(
		c.submitted, c.dispatched, c.completed, c.cancelled, c.failed,
		c.requestLatency, c.handshakeTime, c.activeWorkers, c.submissionDepth,
	)
	return c
}

func (c *Collector) RecordSubmitted()  { c.submitted.Inc() }
func (c *Collector) RecordDispatched() { c.dispatched.Inc() }

func (c *Collector) RecordCompleted(latencySeconds float64) {
	c.completed.Inc()
	c.requestLatency.Observe(latencySeconds)
}

func (c *Collector) RecordCancelled(latencySeconds float64) {
	c.cancelled.Inc()
	c.requestLatency.Observe(latencySeconds)
}

func (c *Collector) RecordFailed(latencySeconds float64) {
	c.failed.Inc()
	c.requestLatency.Observe(latencySeconds)
}

func (c *Collector) RecordHandshake(seconds float64) {
	c.handshakeTime.Observe(seconds)
}

func (c *Collector) SetActiveWorkers(n int) { c.activeWorkers.Set(float64(n)) }

func (c *Collector) SetSubmissionDepth(n int) { c.submissionDepth.Set(float64(n)) }

// Handler returns an http.Handler serving this Collector's metrics in the
// Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// StartServer runs an HTTP server exposing Handler at /metrics.
func (c *Collector) StartServer(port int) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	return http.ListenAndServe(fmt.Sprintf(":%d", port), mux)
}
