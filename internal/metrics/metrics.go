// Package metrics collects and exposes Prometheus metrics for the task
// engine.
//
// Metric categories:
//
//  1. Task counters - cumulative, monotonically increasing:
//     - tasklets_created_total
//     - tasklets_completed_total
//     - tasklets_failed_total
//     - tasklets_cancelled_total
//     - tasklets_cleaned_total
//
//  2. Performance (Histogram) - distribution stats:
//     - tasklets_execution_seconds: per-task execution latency
//
//  3. Status (Gauge) - instantaneous values:
//     - tasklets_active: tasks currently Pending or Running
//     - tasklets_workers: live worker goroutine count
//     - tasklets_queue_length: tasks buffered in the dispatch channel
//     - tasklets_memory_usage_percent: system memory usage observed by the
//       admission gate
//
// NewCollector registers against a private registry instead of the global
// default one, so more than one Engine can run in the same process (e.g. in
// tests) without a duplicate-registration panic.
package metrics

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector collects Prometheus metrics for one Engine instance.
type Collector struct {
	registry *prometheus.Registry

	created   prometheus.Counter
	completed prometheus.Counter
	failed    prometheus.Counter
	cancelled prometheus.Counter
	cleaned   prometheus.Counter

	execution prometheus.Histogram

	active        prometheus.Gauge
	workers       prometheus.Gauge
	queueLength   prometheus.Gauge
	memoryPercent prometheus.Gauge
}

// NewCollector creates and registers a collector on its own registry.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		created: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tasklets_created_total",
			Help: "Total number of tasks submitted.",
		}),
		completed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tasklets_completed_total",
			Help: "Total number of tasks completed successfully.",
		}),
		failed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tasklets_failed_total",
			Help: "Total number of tasks that failed or timed out.",
		}),
		cancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tasklets_cancelled_total",
			Help: "Total number of tasks cancelled before execution.",
		}),
		cleaned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tasklets_cleaned_total",
			Help: "Total number of terminal tasks reclaimed by the lifecycle manager.",
		}),
		execution: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tasklets_execution_seconds",
			Help:    "Per-task execution latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tasklets_active",
			Help: "Current number of pending or running tasks.",
		}),
		workers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tasklets_workers",
			Help: "Current number of live worker goroutines.",
		}),
		queueLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tasklets_queue_length",
			Help: "Current number of tasks buffered in the dispatch channel.",
		}),
		memoryPercent: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tasklets_memory_usage_percent",
			Help: "System memory usage percent observed by the admission gate.",
		}),
	}

	c.registry.MustRegister(
		c.created, c.completed, c.failed, c.cancelled, c.cleaned,
		c.execution,
		c.active, c.workers, c.queueLength, c.memoryPercent,
	)

	return c
}

func (c *Collector) RecordCreated() { c.created.Inc() }

func (c *Collector) RecordCompleted(latencySeconds float64) {
	c.completed.Inc()
	c.execution.Observe(latencySeconds)
}

func (c *Collector) RecordFailed(latencySeconds float64) {
	c.failed.Inc()
	c.execution.Observe(latencySeconds)
}

func (c *Collector) RecordCancelled() { c.cancelled.Inc() }

func (c *Collector) RecordCleaned(n int) {
	if n > 0 {
		c.cleaned.Add(float64(n))
	}
}

// UpdateGauges refreshes the instantaneous status gauges. Called once per
// autoscale tick.
func (c *Collector) UpdateGauges(active, workers, queueLength int, memoryPercent float64) {
	c.active.Set(float64(active))
	c.workers.Set(float64(workers))
	c.queueLength.Set(float64(queueLength))
	c.memoryPercent.Set(memoryPercent)
}

// Handler returns the http.Handler to mount at /metrics.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// StartServer starts an HTTP server exposing /metrics on addr (":9090" for
// example) and blocks. When ctx is cancelled it shuts the server down and
// returns the result of that shutdown; if the server exits first (for
// example because addr cannot be bound), it returns that error.
func (c *Collector) StartServer(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return fmt.Errorf("metrics: server exited: %w", err)
	case <-ctx.Done():
		return srv.Shutdown(context.Background())
	}
}
