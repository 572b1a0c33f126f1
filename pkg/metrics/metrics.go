// Package metrics holds the Prometheus instruments of the automation engine.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Metrics holds Prometheus metrics for the automation engine.
type Metrics struct {
	EventsReceivedTotal  *prometheus.CounterVec
	WorkflowsMatched     *prometheus.CounterVec
	ExecutionsTotal      *prometheus.CounterVec
	ExecutionDuration    *prometheus.HistogramVec
	StepsTotal           *prometheus.CounterVec
	ContinuationsTotal   *prometheus.CounterVec
	SweepRunsTotal       *prometheus.CounterVec
	ExecutionsInProgress prometheus.Gauge
}

// NewMetrics creates and registers the engine metrics once per process.
//
// Metrics:
//   - fieldflow_events_received_total{event_type}
//   - fieldflow_workflows_matched_total{event_type}
//   - fieldflow_executions_total{status} - completed or failed
//   - fieldflow_execution_duration_seconds{status}
//   - fieldflow_steps_total{step_type, outcome} - executed, skipped or failed
//   - fieldflow_continuations_total{action} - scheduled or resumed
//   - fieldflow_sweep_runs_total{sweep, outcome}
//   - fieldflow_executions_in_progress
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			EventsReceivedTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "fieldflow_events_received_total",
					Help: "Total number of business events offered to the trigger matcher",
				},
				[]string{"event_type"},
			),

			WorkflowsMatched: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "fieldflow_workflows_matched_total",
					Help: "Total number of workflow matches per event type",
				},
				[]string{"event_type"},
			),

			ExecutionsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "fieldflow_executions_total",
					Help: "Total number of executions reaching a terminal state",
				},
				[]string{"status"},
			),

			ExecutionDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "fieldflow_execution_duration_seconds",
					Help:    "Wall time from execution start to terminal state, delays included",
					Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
				},
				[]string{"status"},
			),

			StepsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "fieldflow_steps_total",
					Help: "Total number of steps by type and outcome",
				},
				[]string{"step_type", "outcome"},
			),

			ContinuationsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "fieldflow_continuations_total",
					Help: "Total number of delayed continuations scheduled and resumed",
				},
				[]string{"action"},
			),

			SweepRunsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "fieldflow_sweep_runs_total",
					Help: "Total number of periodic sweep runs",
				},
				[]string{"sweep", "outcome"},
			),

			ExecutionsInProgress: promauto.NewGauge(
				prometheus.GaugeOpts{
					Name: "fieldflow_executions_in_progress",
					Help: "Executions currently running, suspended ones excluded",
				},
			),
		}
	})

	return globalMetrics
}
