// Package metrics exposes Prometheus collectors for generation and cleanup activity.
package metrics

import (
	"net/http"

	"github.com/book-expert/podcast-service/internal/core"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "podcast"

// Sweep names used as label values.
const (
	SweepExpired     = "expired"
	SweepStaleFailed = "stale_failed"
	SweepManual      = "manual"
)

// Collectors holds every collector on its own registry. A nil *Collectors is valid and
// records nothing.
type Collectors struct {
	registry *prometheus.Registry

	generationsTotal       *prometheus.CounterVec
	generationFailures     prometheus.Counter
	pollAttempts           prometheus.Histogram
	audioBytes             prometheus.Histogram
	sweepArtifactsDeleted  *prometheus.CounterVec
	sweepObjectsDeleted    *prometheus.CounterVec
	sweepErrors            *prometheus.CounterVec
	sweepBytesFreed        *prometheus.CounterVec
	staleObjectDeleteFails prometheus.Counter
}

// New registers the collectors on a fresh registry.
func New() *Collectors {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Collectors{
		registry: registry,

		generationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "generations_total",
				Help:      "Completed audio generations by synthesis method",
			},
			[]string{"method"},
		),

		generationFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "generation_failures_total",
				Help:      "Generations that ended in a terminal error",
			},
		),

		pollAttempts: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "dialogue_poll_attempts",
				Help:      "Status requests needed before a dialogue job completed",
				Buckets:   prometheus.LinearBuckets(1, 3, 10),
			},
		),

		audioBytes: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "audio_size_bytes",
				Help:      "Size of uploaded audio objects",
				Buckets:   prometheus.ExponentialBuckets(64*1024, 2, 10),
			},
		),

		sweepArtifactsDeleted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cleanup_artifacts_deleted_total",
				Help:      "Artifacts removed by cleanup",
			},
			[]string{"sweep"},
		),

		sweepObjectsDeleted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cleanup_objects_deleted_total",
				Help:      "Storage objects removed by cleanup",
			},
			[]string{"sweep"},
		),

		sweepErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cleanup_errors_total",
				Help:      "Storage object deletions that failed during cleanup",
			},
			[]string{"sweep"},
		),

		sweepBytesFreed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cleanup_bytes_freed_total",
				Help:      "Bytes reclaimed by cleanup, from recorded object sizes",
			},
			[]string{"sweep"},
		),

		staleObjectDeleteFails: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "replaced_object_delete_failures_total",
				Help:      "Best-effort deletions of replaced audio that failed",
			},
		),
	}
}

// Registry returns the registry the collectors are registered on.
func (c *Collectors) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collectors) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// ObserveGeneration records a successful generation.
func (c *Collectors) ObserveGeneration(method core.GenerationMethod, pollAttempts int, sizeBytes int64) {
	if c == nil {
		return
	}

	c.generationsTotal.WithLabelValues(string(method)).Inc()
	c.audioBytes.Observe(float64(sizeBytes))

	if pollAttempts > 0 {
		c.pollAttempts.Observe(float64(pollAttempts))
	}
}

// GenerationFailed records a terminal generation error.
func (c *Collectors) GenerationFailed() {
	if c == nil {
		return
	}

	c.generationFailures.Inc()
}

// ReplacedObjectDeleteFailed records a swallowed deletion failure of replaced audio.
func (c *Collectors) ReplacedObjectDeleteFailed() {
	if c == nil {
		return
	}

	c.staleObjectDeleteFails.Inc()
}

// ObserveSweep adds the outcome of one cleanup run.
func (c *Collectors) ObserveSweep(sweep string, artifacts, objects, errors int, bytesFreed int64) {
	if c == nil {
		return
	}

	c.sweepArtifactsDeleted.WithLabelValues(sweep).Add(float64(artifacts))
	c.sweepObjectsDeleted.WithLabelValues(sweep).Add(float64(objects))
	c.sweepErrors.WithLabelValues(sweep).Add(float64(errors))
	c.sweepBytesFreed.WithLabelValues(sweep).Add(float64(bytesFreed))
}
