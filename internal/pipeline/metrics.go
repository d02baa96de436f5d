package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "appraisal_pipeline_runs_total",
		Help: "Finished pipeline runs by classification or abort cause.",
	}, []string{"classification"})

	RunsInflight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "appraisal_pipeline_inflight",
		Help: "Pipeline runs currently executing.",
	})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "appraisal_stage_duration_seconds",
		Help:    "Wall-clock duration of stage executions.",
		Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80, 160},
	}, []string{"stage"})

	StageResultsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "appraisal_stage_results_total",
		Help: "Stage results by stage, decision and termination reason.",
	}, []string{"stage", "decision", "reason"})
)
