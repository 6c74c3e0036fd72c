// Package metrics provides Prometheus instrumentation for coaching turns,
// plan generation and text-generation calls.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	turnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "empyre_turns_total",
			Help: "Conversation turns processed",
		},
		[]string{"stage", "status"}, // status: success, error
	)

	turnDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "empyre_turn_duration_seconds",
			Help:    "Conversation turn duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"stage"},
	)

	planGenerationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "empyre_plan_generations_total",
			Help: "Plan generation attempts",
		},
		[]string{"outcome"}, // accepted, rejected, parse_error, error
	)

	guardrailViolationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "empyre_guardrail_violations_total",
			Help: "Guardrail violations found in candidate plans",
		},
		[]string{"rule"},
	)

	llmCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "empyre_llm_calls_total",
			Help: "Text-generation calls",
		},
		[]string{"backend", "status"}, // success, error, transient
	)

	llmDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "empyre_llm_duration_seconds",
			Help:    "Text-generation call duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"backend"},
	)

	laurelsAwardedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "empyre_laurels_awarded_total",
			Help: "Laurels awarded",
		},
		[]string{"laurel_type"},
	)
)

// RecordTurn records one conversation turn.
func RecordTurn(stage, status string, d time.Duration) {
	turnsTotal.WithLabelValues(stage, status).Inc()
	turnDurationSeconds.WithLabelValues(stage).Observe(d.Seconds())
}

// RecordPlanGeneration records the outcome of one generation attempt.
func RecordPlanGeneration(outcome string) {
	planGenerationsTotal.WithLabelValues(outcome).Inc()
}

// RecordGuardrailViolation counts one failed guardrail rule.
func RecordGuardrailViolation(rule string) {
	guardrailViolationsTotal.WithLabelValues(rule).Inc()
}

// RecordLLMCall records one text-generation call.
func RecordLLMCall(backend, status string, d time.Duration) {
	llmCallsTotal.WithLabelValues(backend, status).Inc()
	llmDurationSeconds.WithLabelValues(backend).Observe(d.Seconds())
}

// RecordLaurel counts one awarded laurel.
func RecordLaurel(laurelType string) {
	laurelsAwardedTotal.WithLabelValues(laurelType).Inc()
}

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
