package metrics

import (
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/flightcheck/flightcheck/types"
)

const (
	MetricsNamespace = "flightcheck"
)

var (
	Debug bool = true

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "errors_total",
		Help:      "Count of framework errors",
	}, []string{
		"error",
	})

	stepsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "steps_total",
		Help:      "Count of executed steps",
	}, []string{
		"run_id",
		"step",
		"result",
	})

	runResults = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "run_results",
		Help:      "Result of test runs",
	}, []string{
		"run_id",
		"result",
	})

	runStepTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "run_step_total",
		Help:      "Total number of steps in a run",
	}, []string{
		"run_id",
	})

	runStepPassed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "run_step_passed",
		Help:      "Number of passed steps in a run",
	}, []string{
		"run_id",
	})

	runStepFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "run_step_failed",
		Help:      "Number of failed steps in a run",
	}, []string{
		"run_id",
	})

	runDuration = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "run_duration_seconds",
		Help:      "Duration of test runs",
	}, []string{
		"run_id",
	})
)

func RecordError(error string) {
	if Debug {
		log.Debug("metric inc",
			"m", "errors_total",
			"error", error,
		)
	}
	errorsTotal.WithLabelValues(error).Inc()
}

// RecordStep counts a finalized step by its terminal status
func RecordStep(runID string, stepID string, result types.Status) {
	if !result.IsTerminal() {
		log.Error("RecordStep - non-terminal result", "result", result)
		return
	}
	if Debug {
		log.Debug("metric inc",
			"m", "steps_total",
			"run_id", runID,
			"step", stepID,
			"result", result)
	}
	stepsTotal.WithLabelValues(runID, stepID, string(result)).Inc()
}

// RecordRun records the aggregate outcome of a completed run
func RecordRun(runID string, result types.Status, stats types.Stats, duration time.Duration) {
	runResults.WithLabelValues(runID, string(result)).Set(1)
	runStepTotal.WithLabelValues(runID).Add(float64(stats.Total))
	runStepPassed.WithLabelValues(runID).Add(float64(stats.Passed))
	runStepFailed.WithLabelValues(runID).Add(float64(stats.Failed))
	runDuration.WithLabelValues(runID).Set(duration.Seconds())
}
