package agent

import (
	"context"

	"github.com/cuemby/warren-agent/pkg/agentmodel"
	"github.com/cuemby/warren-agent/pkg/transport"
)

// masterHandler and executorHandler adapt the agent to
// transport.MasterInbound and transport.ExecutorInbound respectively.
// They are separate types, not methods directly on *Agent, because both
// interfaces declare an OnFrameworkMessage(FrameworkMessage) method with
// identical signatures but opposite meanings (master-to-executor vs.
// executor-to-master); one Go method cannot implement both directions.
//
// Neither type does any work itself: each handler enqueues a closure
// onto the mailbox so every state transition runs on the single actor
// goroutine, never on whatever goroutine the transport backend
// delivered the message from.
type masterHandler struct{ *Agent }
type executorHandler struct{ *Agent }

var (
	_ transport.MasterInbound   = masterHandler{}
	_ transport.ExecutorInbound = executorHandler{}
)

// OnRunTask handles a master-originated task assignment. A RunTask that
// arrives before recovery has settled is rejected with a synthesized
// LOST, since the registry's view of existing executors is not yet
// trustworthy (step 6 of the recovery protocol has not resolved).
func (h masterHandler) OnRunTask(msg transport.RunTaskMessage) {
	h.enqueue(func() {
		ctx := context.Background()
		select {
		case <-h.recoveredCh:
		default:
			h.log.Warn().Str("task_id", msg.Task.ID).Msg("rejecting run-task before recovery has settled")
			_ = h.status.Update(ctx, agentmodel.NewStatusUpdate(msg.Task.FrameworkID, msg.Executor.ExecutorID, msg.Task.ID, agentmodel.TaskLost, []byte("agent still recovering")))
			return
		}
		if err := h.registry.RunTask(ctx, msg); err != nil {
			h.log.Error().Err(err).Str("task_id", msg.Task.ID).Msg("run-task failed")
		}
	})
}

// OnKillTask handles a master-originated kill request.
func (h masterHandler) OnKillTask(msg transport.KillTaskMessage) {
	h.enqueue(func() {
		if err := h.registry.KillTask(context.Background(), msg.FrameworkID, msg.TaskID); err != nil {
			h.log.Error().Err(err).Str("task_id", msg.TaskID).Msg("kill-task failed")
		}
	})
}

// OnShutdownFramework handles a master-originated framework teardown.
func (h masterHandler) OnShutdownFramework(msg transport.ShutdownFrameworkMessage) {
	h.enqueue(func() {
		h.registry.ShutdownFramework(context.Background(), msg.FrameworkID)
	})
}

// OnStatusUpdateAck handles the master's acknowledgement of a
// previously forwarded status update, closing out its stream.
func (h masterHandler) OnStatusUpdateAck(ack agentmodel.Ack) {
	h.enqueue(func() {
		if err := h.status.Ack(context.Background(), ack); err != nil {
			h.log.Error().Err(err).Str("task_id", ack.TaskID).Msg("failed to process status-update ack")
		}
	})
}

// OnFrameworkMessage relays a master-originated scheduler message to
// the named executor.
func (h masterHandler) OnFrameworkMessage(msg transport.FrameworkMessage) {
	h.enqueue(func() {
		if err := h.execTr.SendFrameworkMessage(context.Background(), msg); err != nil {
			h.log.Error().Err(err).Str("executor_id", msg.ExecutorID).Msg("failed to relay framework message to executor")
		}
	})
}

// OnMasterDetected drives the registration state machine: a first
// detection goes to registering, a redetection while an agent ID is
// already known goes to reregistering instead.
func (h masterHandler) OnMasterDetected() {
	h.enqueue(func() {
		h.beginRegistration(context.Background())
	})
}

// OnMasterLost drops the agent back to disconnected. Already-launched
// executors keep running; only registration state changes.
func (h masterHandler) OnMasterLost() {
	h.enqueue(func() {
		h.mu.Lock()
		h.state = disconnected
		h.mu.Unlock()
		h.log.Warn().Msg("master connection lost")
	})
}

// OnRegisterExecutor handles an executor announcing itself as ready to
// receive tasks.
func (h executorHandler) OnRegisterExecutor(executorID string) {
	h.enqueue(func() {
		fw, ok := h.frameworkIDFor(executorID)
		if !ok {
			h.log.Warn().Str("executor_id", executorID).Msg("register-executor for unknown executor")
			return
		}
		h.registry.ExecutorRegistered(context.Background(), fw, executorID)
	})
}

// OnStatusUpdate handles a status update reported by an executor.
func (h executorHandler) OnStatusUpdate(update agentmodel.StatusUpdate) {
	h.enqueue(func() {
		if err := h.registry.StatusUpdate(context.Background(), update); err != nil {
			h.log.Error().Err(err).Str("task_id", update.TaskID).Msg("failed to process executor status update")
		}
	})
}

// OnFrameworkMessage relays an executor-originated message bound for
// its framework's scheduler on to the master.
func (h executorHandler) OnFrameworkMessage(msg transport.FrameworkMessage) {
	h.enqueue(func() {
		if err := h.master.SendFrameworkMessage(context.Background(), msg); err != nil {
			h.log.Error().Err(err).Str("executor_id", msg.ExecutorID).Msg("failed to relay framework message to master")
		}
	})
}

// frameworkIDFor recovers the framework an executor belongs to from the
// pid-tracking table, since OnRegisterExecutor only carries the
// executor's own ID.
func (a *Agent) frameworkIDFor(executorID string) (string, bool) {
	a.pidMu.Lock()
	defer a.pidMu.Unlock()
	for _, key := range a.pidExec {
		if key.executorID == executorID {
			return key.frameworkID, true
		}
	}
	return "", false
}
