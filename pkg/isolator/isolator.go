// Package isolator defines the interface the agent core requires of any
// executor-launching backend. The concrete backends (posix-process,
// container-runtime-backed, ...) are external collaborators; this
// package only fixes the capability set the core is allowed to depend
// on, abstracted behind an interface so backends can be swapped in
// without touching the registry or agent actor.
package isolator

import (
	"context"
	"time"

	"github.com/cuemby/warren-agent/pkg/agentmodel"
)

// ResourceStatistics is a point-in-time usage snapshot for monitoring.
type ResourceStatistics struct {
	CPUUsagePercent float64
	MemoryUsedBytes int64
	Timestamp       time.Time
}

// Termination is delivered exactly once when the isolator itself
// observes an executor's container-level termination, which may precede
// or be entirely distinct from the reaper's OS-level exit notification
// (a container runtime kill does not necessarily show up as the launch
// PID exiting, e.g. when the runtime reparents it).
type Termination struct {
	ExecutorID string
	ExitCode   int
	Known      bool
}

// CheckpointedExecutor is the subset of checkpointed state an isolator
// needs to re-attach to a still-running executor across an agent
// restart.
type CheckpointedExecutor struct {
	FrameworkID   string
	ExecutorID    string
	ContainerUUID string
	SandboxDir    string
	PID           int
}

// Isolator launches, constrains, monitors, and destroys executor
// processes. destroy is idempotent: calling it on an executor that is
// already gone must not error.
type Isolator interface {
	// LaunchExecutor starts the executor process in sandboxDir with the
	// given resource limits applied. The returned channel receives
	// exactly one Termination when the isolator observes the executor
	// terminated; it is closed immediately after.
	LaunchExecutor(ctx context.Context, fw agentmodel.FrameworkInfo, ex agentmodel.ExecutorInfo, sandboxDir string, resources agentmodel.Resources) (pid int, termination <-chan Termination, err error)

	// Update changes the applied resource limits for a running executor.
	Update(ctx context.Context, executorID string, resources agentmodel.Resources) error

	// Usage reports current resource consumption for monitoring.
	Usage(ctx context.Context, executorID string) (ResourceStatistics, error)

	// Destroy forcibly terminates the executor. Idempotent.
	Destroy(ctx context.Context, executorID string) error

	// Recover re-attaches to executors that were still running when the
	// agent last checkpointed, called once during agent startup before
	// any new work is accepted.
	Recover(ctx context.Context, checkpointed []CheckpointedExecutor) error
}

// LaunchError wraps a launch failure; the registry treats this as fatal
// for the affected executor only, synthesizing TASK_FAILED for every
// task that was queued on it.
type LaunchError struct {
	ExecutorID string
	Err        error
}

func (e *LaunchError) Error() string {
	return "launch failed for executor " + e.ExecutorID + ": " + e.Err.Error()
}

func (e *LaunchError) Unwrap() error { return e.Err }
