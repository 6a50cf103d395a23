// Package metrics records pipeline counters in a private Prometheus registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "harvester"

// Recorder holds the run's collectors. A nil *Recorder discards everything.
type Recorder struct {
	registry *prometheus.Registry

	attempted  prometheus.Counter
	succeeded  prometheus.Counter
	skipped    *prometheus.CounterVec
	inFlight   prometheus.Gauge
	queueDepth prometheus.Gauge
	flushes    *prometheus.CounterVec
	persisted  prometheus.Counter
	dropped    prometheus.Counter
	batchSize  prometheus.Histogram
}

// New creates a Recorder with its own registry.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		attempted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "fetch", Name: "attempted_total",
			Help: "Addresses handed to a fetch task.",
		}),
		succeeded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "fetch", Name: "succeeded_total",
			Help: "Fetches that produced an HTML result.",
		}),
		skipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "fetch", Name: "skipped_total",
			Help: "Fetches that produced no result, by reason.",
		}, []string{"reason"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "fetch", Name: "in_flight",
			Help: "Fetch tasks currently holding a concurrency slot.",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "queue", Name: "depth",
			Help: "Results waiting for the batch writer.",
		}),
		flushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "writer", Name: "flushes_total",
			Help: "Batch flushes, by outcome.",
		}, []string{"outcome"}),
		persisted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "writer", Name: "persisted_total",
			Help: "Rows newly inserted into the store.",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "writer", Name: "dropped_total",
			Help: "Rows discarded by failed flushes.",
		}),
		batchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "writer", Name: "batch_size",
			Help:    "Rows per flush.",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),
	}

	r.registry.MustRegister(
		r.attempted, r.succeeded, r.skipped, r.inFlight, r.queueDepth,
		r.flushes, r.persisted, r.dropped, r.batchSize,
	)
	return r
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// WriteTextfile writes the current values in the node_exporter textfile format.
func (r *Recorder) WriteTextfile(path string) error {
	if r == nil {
		return nil
	}
	return prometheus.WriteToTextfile(path, r.registry)
}

func (r *Recorder) FetchStarted() {
	if r == nil {
		return
	}
	r.attempted.Inc()
	r.inFlight.Inc()
}

func (r *Recorder) FetchFinished() {
	if r == nil {
		return
	}
	r.inFlight.Dec()
}

func (r *Recorder) FetchSucceeded() {
	if r == nil {
		return
	}
	r.succeeded.Inc()
}

func (r *Recorder) FetchSkipped(reason string) {
	if r == nil {
		return
	}
	r.skipped.WithLabelValues(reason).Inc()
}

func (r *Recorder) QueueDepth(n int) {
	if r == nil {
		return
	}
	r.queueDepth.Set(float64(n))
}

// Flushed records a successful flush of size rows, inserted of them new.
func (r *Recorder) Flushed(size int, inserted int64) {
	if r == nil {
		return
	}
	r.flushes.WithLabelValues("ok").Inc()
	r.batchSize.Observe(float64(size))
	r.persisted.Add(float64(inserted))
}

// FlushFailed records a failed flush whose size rows were discarded.
func (r *Recorder) FlushFailed(size int) {
	if r == nil {
		return
	}
	r.flushes.WithLabelValues("error").Inc()
	r.batchSize.Observe(float64(size))
	r.dropped.Add(float64(size))
}
