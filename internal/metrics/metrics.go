// Package metrics holds the Prometheus collectors exported at /metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "listingreels"

// Outcome labels
const (
	OutcomeSuccess  = "success"
	OutcomeFailure  = "failure"
	OutcomeSkipped  = "skipped"
	OutcomeRejected = "rejected"
	OutcomePartial  = "partial"
)

var (
	ClipGenerations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "clip_generations_total",
		Help:      "Clip generation attempts by provider and outcome.",
	}, []string{"provider", "outcome"})

	ProviderCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "provider_call_duration_seconds",
		Help:      "Wall time of provider GenerateClip calls.",
		Buckets:   []float64{5, 15, 30, 60, 120, 180, 300, 600},
	}, []string{"provider"})

	ProjectStarts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "project_starts_total",
		Help:      "StartGeneration calls by outcome.",
	}, []string{"outcome"})

	CompileHandoffs = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "compile_handoffs_total",
		Help:      "Compilation triggers by outcome.",
	}, []string{"outcome"})
)

// ObserveProviderCall records the duration of one provider call started at start.
func ObserveProviderCall(provider string, start time.Time) {
	ProviderCallDuration.WithLabelValues(provider).Observe(time.Since(start).Seconds())
}

func Handler() http.Handler {
	return promhttp.Handler()
}
