// Package metrics exposes Prometheus instrumentation for the matcher.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "trial_matcher"

// Metrics holds the matcher's collectors on a private registry. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	matchRequests   *prometheus.CounterVec
	matchDuration   prometheus.Histogram
	matchResults    prometheus.Histogram
	stageDuration   *prometheus.HistogramVec
	rationaleStatus *prometheus.CounterVec
	trialsIngested  prometheus.Counter
	embedCacheHits  *prometheus.CounterVec
}

// New creates the collectors and registers them with a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		matchRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "match_requests_total",
			Help:      "Match requests by outcome code.",
		}, []string{"code"}),
		matchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "match_duration_seconds",
			Help:      "End-to-end match latency.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}),
		matchResults: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "match_results",
			Help:      "Number of trials returned per match.",
			Buckets:   prometheus.LinearBuckets(0, 5, 11),
		}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Latency of pipeline stages (embed, retrieve, rationale).",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"stage"}),
		rationaleStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rationale_total",
			Help:      "Rationale attempts by status.",
		}, []string{"status"}),
		trialsIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trials_ingested_total",
			Help:      "Trials upserted into the vector store.",
		}),
		embedCacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_cache_lookups_total",
			Help:      "Embedding cache lookups by result.",
		}, []string{"result"}),
	}

	m.registry.MustRegister(
		m.matchRequests,
		m.matchDuration,
		m.matchResults,
		m.stageDuration,
		m.rationaleStatus,
		m.trialsIngested,
		m.embedCacheHits,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{Namespace: namespace}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveMatch records one completed match request. code is "" on success.
func (m *Metrics) ObserveMatch(code string, elapsed time.Duration, results int) {
	if m == nil {
		return
	}
	if code == "" {
		code = "OK"
	}
	m.matchRequests.WithLabelValues(code).Inc()
	m.matchDuration.Observe(elapsed.Seconds())
	if code == "OK" {
		m.matchResults.Observe(float64(results))
	}
}

// ObserveStage records the latency of one pipeline stage.
func (m *Metrics) ObserveStage(stage string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(elapsed.Seconds())
}

// IncRationale counts a rationale attempt.
func (m *Metrics) IncRationale(status string) {
	if m == nil {
		return
	}
	m.rationaleStatus.WithLabelValues(status).Inc()
}

// AddTrialsIngested counts upserted trials.
func (m *Metrics) AddTrialsIngested(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.trialsIngested.Add(float64(n))
}

// IncEmbedCache counts an embedding cache hit or miss.
func (m *Metrics) IncEmbedCache(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.embedCacheHits.WithLabelValues("hit").Inc()
	} else {
		m.embedCacheHits.WithLabelValues("miss").Inc()
	}
}
