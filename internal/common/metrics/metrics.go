// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PipelineTurnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_turns_total",
			Help: "Total number of pipeline turns by terminal state",
		},
		[]string{"state"},
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "pipeline_stage_duration_seconds",
			Help: "Duration of pipeline stage execution in seconds",
		},
		[]string{"stage"},
	)

	StageFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_stage_failures_total",
			Help: "Total number of stage failures by stage and error code",
		},
		[]string{"stage", "error_code"},
	)

	RetrievalCandidates = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "retrieval_candidates_per_turn",
			Help:    "Evidence candidates surviving merge and threshold per turn",
			Buckets: prometheus.LinearBuckets(0, 2, 10),
		},
	)

	RetrievalRewrites = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "retrieval_rewrite_attempts_total",
			Help: "Total number of query rewrite search attempts",
		},
	)

	NoEvidenceFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pipeline_no_evidence_fallbacks_total",
			Help: "Turns answered with the no-evidence fallback",
		},
	)

	CitationInvariantViolations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "synthesis_citation_invariant_violations_total",
			Help: "Facts dropped because no citation survived filtering",
		},
	)
)
