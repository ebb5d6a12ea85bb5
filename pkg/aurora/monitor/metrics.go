package monitor

import "github.com/prometheus/client_golang/prometheus"

const (
	namespace = "aurora"
	subsystem = "monitor"
)

var (
	pollsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "polls_total",
			Help:      "Number of monitor polls by outcome",
		},
		[]string{"result"}, // "continue", "degraded", "terminate", "error", "pending"
	)

	jobCycles = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "job_cycles",
			Help:      "Completed cycles observed for a monitored job",
		},
		[]string{"job_id"},
	)

	jobCapacityRetention = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "job_capacity_retention",
			Help:      "Latest capacity as a fraction of the first cycle",
		},
		[]string{"job_id"},
	)

	terminationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "terminations_total",
			Help:      "Jobs terminated by the monitor, by cause",
		},
		[]string{"cause"}, // "capacity", "user"
	)
)

func init() {
	prometheus.MustRegister(pollsTotal)
	prometheus.MustRegister(jobCycles)
	prometheus.MustRegister(jobCapacityRetention)
	prometheus.MustRegister(terminationsTotal)
}
