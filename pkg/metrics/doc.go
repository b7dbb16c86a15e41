/*
Package metrics provides Prometheus metrics collection and exposition
for the node-agent core, plus an HTTP health/readiness/liveness surface
used by process supervisors and load balancers.

# Architecture

	┌──────────────────── METRICS SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │          Prometheus Registry                │          │
	│  │  - Global DefaultRegistry                   │          │
	│  │  - MustRegister at package init             │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Metric Categories                 │          │
	│  │                                              │          │
	│  │  Registry: framework/executor/task counts,  │          │
	│  │            completed-ring occupancy         │          │
	│  │  Status delivery: stream states, retries,   │          │
	│  │            valid/invalid update counters    │          │
	│  │  Registration: attempt outcomes              │          │
	│  │  Executor lifecycle: launches, terminations  │          │
	│  │  Recovery: duration, per-executor outcome    │          │
	│  │  GC: sweep and reclaim counters              │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │          HTTP Metrics Endpoint               │          │
	│  │  - Path: /metrics                            │          │
	│  │  - Format: Prometheus text exposition         │          │
	│  └────────────────────────────────────────────────┘        │
	└────────────────────────────────────────────────────────┘

# Metrics

Registry occupancy (polled periodically, not updated inline — see
pkg/agent's metrics collector):

  - warren_agent_frameworks_total
  - warren_agent_executors_total
  - warren_agent_tasks_total{queue="queued|launched"}
  - warren_agent_completed_ring_occupancy{entity="executor|task"}

Status-update delivery:

  - warren_agent_status_update_streams{state="pending|forwarded|acked"}
  - warren_agent_status_updates_valid_total
  - warren_agent_status_updates_invalid_total
  - warren_agent_status_update_retries_total (counter, incremented
    directly by pkg/statusmanager's retry timer)

Registration:

  - warren_agent_registration_attempts_total{kind="register|reregister",outcome="success|failure"}

Executor lifecycle:

  - warren_agent_executor_launches_total
  - warren_agent_executor_terminations_total{source="isolator|reaper"}

Recovery:

  - warren_agent_recovery_duration_seconds
  - warren_agent_recovered_executors_total{outcome="reconnected|shutdown|timed_out"}

Garbage collection:

  - warren_agent_gc_sweeps_total
  - warren_agent_gc_reclaimed_sandboxes_total

# Usage

Counters incremented inline, at the point an event occurs:

	metrics.ExecutorLaunchesTotal.Inc()
	metrics.ExecutorTerminationsTotal.WithLabelValues("reaper").Inc()
	metrics.RegistrationAttemptsTotal.WithLabelValues("register", "success").Inc()

Gauges polled on an interval by a collector that owns the components
being observed (see pkg/agent's metricsCollector), rather than updated
from inside the hot path of every registry/status-manager operation:

	valid, invalid := registry.Stats()
	metrics.StatusUpdatesValidTotal.Set(float64(valid))
	metrics.StatusUpdatesInvalidTotal.Set(float64(invalid))

Timing an operation:

	timer := metrics.NewTimer()
	// ... do work ...
	timer.ObserveDuration(metrics.RecoveryDuration)

# Health, Readiness, Liveness

RegisterComponent/UpdateComponent track the health of named
subsystems; GetReadiness treats "isolator" and "checkpoint" as
critical — the agent cannot do useful work without a container runtime
connection or a working checkpoint store, but a master connection
dropping does not by itself make the agent unready (executors keep
running; only registration state changes, per pkg/agent's
OnMasterLost).

	metrics.RegisterComponent("isolator", true, "")
	metrics.RegisterComponent("checkpoint", true, "")

	http.Handle("/metrics", metrics.Handler())
	http.HandleFunc("/healthz", metrics.HealthHandler())
	http.HandleFunc("/readyz", metrics.ReadyHandler())
	http.HandleFunc("/livez", metrics.LivenessHandler())

# See Also

  - pkg/agent for the periodic collector that polls pkg/registry and
    pkg/statusmanager occupancy into these gauges
  - pkg/registry for Stats()/Occupancy()
  - pkg/statusmanager for Stats()
*/
package metrics
