// Package metrics provides Prometheus metrics for the digest service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// PipelineRunsTotal counts pipeline runs by outcome.
	PipelineRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "newsdigest",
			Name:      "pipeline_runs_total",
			Help:      "Total number of digest pipeline runs",
		},
		[]string{"status"},
	)

	// PipelineDuration measures pipeline run duration.
	PipelineDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "newsdigest",
			Name:      "pipeline_duration_seconds",
			Help:      "Duration of digest pipeline runs in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		},
	)

	// ArticlesFetched observes how many articles each run used.
	ArticlesFetched = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "newsdigest",
			Name:      "articles_fetched",
			Help:      "Distribution of articles fetched per run",
			Buckets:   []float64{0, 1, 2, 5, 10, 20},
		},
	)

	// EmailsTotal counts delivery attempts by outcome.
	EmailsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "newsdigest",
			Name:      "emails_total",
			Help:      "Total number of digest emails attempted",
		},
		[]string{"status"},
	)

	// ErrorsTotal counts pipeline errors by stage.
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "newsdigest",
			Name:      "errors_total",
			Help:      "Total number of pipeline errors",
		},
		[]string{"stage"},
	)

	// ScheduleActive tracks whether the timer is installed.
	ScheduleActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "newsdigest",
			Name:      "schedule_active",
			Help:      "Schedule state (1 = scheduled, 0 = idle)",
		},
	)

	// SkippedTicksTotal counts timer ticks dropped because a run was active.
	SkippedTicksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "newsdigest",
			Name:      "skipped_ticks_total",
			Help:      "Total number of scheduled ticks skipped while a run was in progress",
		},
	)
)

// RecordRun records a finished pipeline run.
func RecordRun(status string, articles int, duration float64) {
	PipelineRunsTotal.WithLabelValues(status).Inc()
	PipelineDuration.Observe(duration)
	ArticlesFetched.Observe(float64(articles))
}

// RecordEmails records delivery outcomes of one run.
func RecordEmails(sent, failed int) {
	EmailsTotal.WithLabelValues("sent").Add(float64(sent))
	EmailsTotal.WithLabelValues("failed").Add(float64(failed))
}

// RecordError records an error in a pipeline stage.
func RecordError(stage string) {
	ErrorsTotal.WithLabelValues(stage).Inc()
}

// SetScheduleActive sets the schedule gauge.
func SetScheduleActive(active bool) {
	if active {
		ScheduleActive.Set(1)
		return
	}
	ScheduleActive.Set(0)
}

// RecordSkippedTick records a tick dropped by overlap protection.
func RecordSkippedTick() {
	SkippedTicksTotal.Inc()
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
