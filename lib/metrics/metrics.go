// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package metrics defines the Prometheus metrics buildrelay exports on
// /metrics when running as a service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "buildrelay"

// Metrics holds every collector. A nil *Metrics is valid and records
// nothing, so components take one without requiring it.
type Metrics struct {
	Triggers        *prometheus.CounterVec
	PipelineRuns    *prometheus.CounterVec
	PipelineSeconds *prometheus.HistogramVec
	StageResults    *prometheus.CounterVec
	StageSeconds    *prometheus.HistogramVec
	SyncAttempts    *prometheus.CounterVec
	RemoteJobs      *prometheus.CounterVec
	RemoteJobTicks  prometheus.Histogram
	Notifications   *prometheus.CounterVec
}

// New registers every collector with registerer.
func New(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		Triggers: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "triggers_total",
			Help:      "Trigger commands received, by whether they matched a known command.",
		}, []string{"known"}),
		PipelineRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_runs_total",
			Help:      "Completed pipeline runs by target and outcome.",
		}, []string{"target", "outcome"}),
		PipelineSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_duration_seconds",
			Help:      "Wall time of a pipeline run.",
			Buckets:   []float64{30, 60, 120, 300, 600, 1200, 1800, 3600},
		}, []string{"target"}),
		StageResults: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_results_total",
			Help:      "Stage results by target, stage, and status.",
		}, []string{"target", "stage", "status"}),
		StageSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Wall time of a pipeline stage.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}, []string{"target", "stage"}),
		SyncAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_attempts_total",
			Help:      "Repository synchronization attempts by failure kind (\"none\" on success).",
		}, []string{"kind"}),
		RemoteJobs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remote_jobs_total",
			Help:      "Supervised remote jobs by final state.",
		}, []string{"state"}),
		RemoteJobTicks: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "remote_job_poll_ticks",
			Help:      "Polling ticks a supervised remote job took to resolve.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1000},
		}),
		Notifications: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Operator notifications by delivery result.",
		}, []string{"result"}),
	}
}

// NewRegistry returns a fresh registry with the collectors registered,
// plus the Go runtime and process collectors.
func NewRegistry() (*prometheus.Registry, *Metrics) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return registry, New(registry)
}

// Handler serves the registry in the Prometheus exposition format.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// ObserveTrigger counts one trigger.
func (m *Metrics) ObserveTrigger(known bool) {
	if m == nil {
		return
	}
	label := "false"
	if known {
		label = "true"
	}
	m.Triggers.WithLabelValues(label).Inc()
}

// ObservePipeline records a finished pipeline run.
func (m *Metrics) ObservePipeline(target, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.PipelineRuns.WithLabelValues(target, outcome).Inc()
	m.PipelineSeconds.WithLabelValues(target).Observe(seconds)
}

// ObserveStage records one stage result.
func (m *Metrics) ObserveStage(target, stage, status string, seconds float64) {
	if m == nil {
		return
	}
	m.StageResults.WithLabelValues(target, stage, status).Inc()
	m.StageSeconds.WithLabelValues(target, stage).Observe(seconds)
}

// ObserveSync records a synchronization outcome; kind is "none" for
// success.
func (m *Metrics) ObserveSync(kind string, attempts int) {
	if m == nil {
		return
	}
	m.SyncAttempts.WithLabelValues(kind).Add(float64(attempts))
}

// ObserveRemoteJob records a resolved remote job.
func (m *Metrics) ObserveRemoteJob(state string, ticks int) {
	if m == nil {
		return
	}
	m.RemoteJobs.WithLabelValues(state).Inc()
	m.RemoteJobTicks.Observe(float64(ticks))
}

// ObserveNotification records a delivery attempt.
func (m *Metrics) ObserveNotification(err error) {
	if m == nil {
		return
	}
	result := "delivered"
	if err != nil {
		result = "failed"
	}
	m.Notifications.WithLabelValues(result).Inc()
}
