package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	ExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipewright_executions_total",
			Help: "Total number of pipeline executions by terminal status.",
		},
		[]string{"status"},
	)

	ExecutionDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pipewright_execution_duration_seconds",
			Help:    "Duration of pipeline executions in seconds.",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		},
		[]string{"status"},
	)

	TriggerAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipewright_trigger_attempts_total",
			Help: "Total number of provider trigger attempts by outcome.",
		},
		[]string{"outcome"},
	)

	RelaySessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pipewright_relay_sessions_active",
			Help: "Number of currently running log relay loops.",
		},
	)

	RelayMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipewright_relay_messages_total",
			Help: "Total number of relay messages published by type.",
		},
		[]string{"type"},
	)
)

func init() {
	prometheus.MustRegister(
		ExecutionsTotal,
		ExecutionDurationSeconds,
		TriggerAttemptsTotal,
		RelaySessionsActive,
		RelayMessagesTotal,
	)
}
