package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry occupancy
	FrameworksTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "warren_agent_frameworks_total",
			Help: "Total number of frameworks the agent currently knows about",
		},
	)

	ExecutorsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "warren_agent_executors_total",
			Help: "Total number of executors currently tracked by the registry",
		},
	)

	TasksByQueue = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "warren_agent_tasks_total",
			Help: "Total number of tasks by queue (queued, launched)",
		},
		[]string{"queue"},
	)

	CompletedRingOccupancy = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "warren_agent_completed_ring_occupancy",
			Help: "Current occupancy of the bounded completed-entity ring buffers",
		},
		[]string{"entity"}, // "executor" or "task"
	)

	// Status-update delivery
	StatusUpdatesByState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "warren_agent_status_update_streams",
			Help: "Number of task status-update streams currently in each state",
		},
		[]string{"state"}, // "pending", "forwarded", "acked"
	)

	StatusUpdatesValidTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "warren_agent_status_updates_valid_total",
			Help: "Total number of status updates the registry accepted as valid",
		},
	)

	StatusUpdatesInvalidTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "warren_agent_status_updates_invalid_total",
			Help: "Total number of status updates the registry rejected as invalid",
		},
	)

	StatusUpdateRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "warren_agent_status_update_retries_total",
			Help: "Total number of status-update retransmissions fired by the retry timer",
		},
	)

	// Registration
	RegistrationAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warren_agent_registration_attempts_total",
			Help: "Total number of registration/reregistration attempts by outcome",
		},
		[]string{"kind", "outcome"}, // kind: register|reregister, outcome: success|failure
	)

	// Executor lifecycle
	ExecutorLaunchesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "warren_agent_executor_launches_total",
			Help: "Total number of executors launched",
		},
	)

	ExecutorTerminationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warren_agent_executor_terminations_total",
			Help: "Total number of executor terminations by source",
		},
		[]string{"source"}, // "isolator", "reaper"
	)

	// Recovery
	RecoveryDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "warren_agent_recovery_duration_seconds",
			Help:    "Time taken for the crash-recovery protocol to resolve Recovered()",
			Buckets: prometheus.DefBuckets,
		},
	)

	RecoveredExecutorsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "warren_agent_recovered_executors_total",
			Help: "Number of checkpointed executors from the last recovery, by outcome",
		},
		[]string{"outcome"}, // "reconnected", "shutdown", "timed_out"
	)

	// Garbage collection
	GCSweepsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "warren_agent_gc_sweeps_total",
			Help: "Total number of disk-usage GC sweeps performed",
		},
	)

	GCReclaimedSandboxesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "warren_agent_gc_reclaimed_sandboxes_total",
			Help: "Total number of sandbox directories removed by GC sweeps",
		},
	)
)

func init() {
	prometheus.MustRegister(
		FrameworksTotal,
		ExecutorsTotal,
		TasksByQueue,
		CompletedRingOccupancy,
		StatusUpdatesByState,
		StatusUpdatesValidTotal,
		StatusUpdatesInvalidTotal,
		StatusUpdateRetriesTotal,
		RegistrationAttemptsTotal,
		ExecutorLaunchesTotal,
		ExecutorTerminationsTotal,
		RecoveryDuration,
		RecoveredExecutorsTotal,
		GCSweepsTotal,
		GCReclaimedSandboxesTotal,
	)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
