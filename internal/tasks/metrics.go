package tasks

import "github.com/prometheus/client_golang/prometheus"

var (
	pollsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "evopanel",
			Subsystem: "tasks",
			Name:      "polls_total",
			Help:      "Task status polls by observed outcome",
		},
		[]string{"outcome"},
	)

	chainsInflight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "evopanel",
			Subsystem: "tasks",
			Name:      "inflight_chains",
			Help:      "Task chains currently polling",
		},
	)

	chainDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "evopanel",
			Subsystem: "tasks",
			Name:      "chain_duration_seconds",
			Help:      "Time from first poll to terminal state",
			Buckets:   []float64{1, 2, 5, 10, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(pollsTotal, chainsInflight, chainDuration)
}
