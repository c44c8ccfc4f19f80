// Package metrics provides Prometheus metrics for the ingestion pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "air_tracker"

// Metrics holds all pipeline metrics. A nil *Metrics is valid and records nothing.
type Metrics struct {
	ProviderCalls    *prometheus.CounterVec
	ProviderLatency  *prometheus.HistogramVec
	StageRecords     *prometheus.CounterVec
	StageRuns        *prometheus.CounterVec
	StageDuration    *prometheus.HistogramVec
	LastStageSuccess *prometheus.GaugeVec

	registry *prometheus.Registry
}

// Config holds metrics configuration.
type Config struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"` // e.g. ":9090"
}

// ApplyDefaults sets default values for metrics config.
func (c *Config) ApplyDefaults() {
	if c.Address == "" {
		c.Address = ":9090"
	}
}

// New creates and registers the pipeline metrics on a private registry.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.ProviderCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_calls_total",
			Help:      "Provider HTTP attempts by endpoint and outcome",
		},
		[]string{"endpoint", "outcome"},
	)
	m.ProviderLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_call_duration_seconds",
			Help:      "Provider HTTP attempt latency",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"endpoint"},
	)
	m.StageRecords = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_records_total",
			Help:      "Records handled per stage by result (written, skipped, failed)",
		},
		[]string{"stage", "result"},
	)
	m.StageRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_runs_total",
			Help:      "Stage cycles by final status (committed, rolled_back)",
		},
		[]string{"stage", "status"},
	)
	m.StageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Wall time of one stage cycle",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		},
		[]string{"stage"},
	)
	m.LastStageSuccess = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stage_last_success_timestamp_seconds",
			Help:      "Unix time of the last committed cycle per stage",
		},
		[]string{"stage"},
	)

	m.registry.MustRegister(
		m.ProviderCalls,
		m.ProviderLatency,
		m.StageRecords,
		m.StageRuns,
		m.StageDuration,
		m.LastStageSuccess,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler returns the /metrics HTTP handler.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveCall records one provider attempt.
func (m *Metrics) ObserveCall(endpoint, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.ProviderCalls.WithLabelValues(endpoint, outcome).Inc()
	m.ProviderLatency.WithLabelValues(endpoint).Observe(d.Seconds())
}

// RecordResult counts one record outcome for a stage.
func (m *Metrics) RecordResult(stage, result string) {
	if m == nil {
		return
	}
	m.StageRecords.WithLabelValues(stage, result).Inc()
}

// ObserveStage records the end of a stage cycle.
func (m *Metrics) ObserveStage(stage string, committed bool, d time.Duration) {
	if m == nil {
		return
	}
	status := "rolled_back"
	if committed {
		status = "committed"
		m.LastStageSuccess.WithLabelValues(stage).SetToCurrentTime()
	}
	m.StageRuns.WithLabelValues(stage, status).Inc()
	m.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
}
