package agent

import (
	"context"

	"github.com/cuemby/warren-agent/pkg/metrics"
	"github.com/cuemby/warren-agent/pkg/reaper"
)

// TrackExecutor is registry.Config.OnExecutorLaunched: it runs the
// moment an executor's PID becomes known, whether from a fresh launch
// or from Recover re-attaching to one still running from a prior
// incarnation. It hands the PID to the reaper and subscribes the
// agent's own handlers on the executor's transport connection, so both
// are in place before any message involving this executor can arrive.
func (a *Agent) TrackExecutor(frameworkID, executorID string, pid int) {
	a.pidMu.Lock()
	a.pidExec[pid] = executorKey{frameworkID: frameworkID, executorID: executorID}
	a.pidMu.Unlock()

	a.reap.Monitor(pid)
	a.execTr.Subscribe(executorID, executorHandler{a})
}

// onProcessExit is the reaper.Listener bridging a PID-keyed exit
// notification to the registry's framework/executor-keyed model. The
// isolator's own termination channel (watched by the registry directly)
// covers container-runtime-observed exits; this covers the OS-level
// exit of the launch PID itself, which matters when the two diverge
// (e.g. a reparented process the runtime no longer tracks).
func (a *Agent) onProcessExit(status reaper.ExitStatus) {
	a.pidMu.Lock()
	key, ok := a.pidExec[status.PID]
	if ok {
		delete(a.pidExec, status.PID)
	}
	a.pidMu.Unlock()
	if !ok {
		return
	}

	metrics.ExecutorTerminationsTotal.WithLabelValues("reaper").Inc()
	a.enqueue(func() {
		a.registry.ExecutorTerminated(context.Background(), key.frameworkID, key.executorID, status.Status, status.Known)
	})
}
