package registry

import (
	"github.com/cuemby/warren-agent/pkg/agentmodel"
	"github.com/cuemby/warren-agent/pkg/checkpoint"
	"github.com/cuemby/warren-agent/pkg/isolator"
)

// Recover rebuilds the in-memory frameworks/executors/task-index from a
// checkpoint walk, before any new work is accepted. It must run exactly
// once, before RunTask is ever called. The returned slice is every
// executor the isolator needs to re-attach to; the caller (the agent's
// recovery protocol) decides per-executor whether to wait for
// re-registration or shut it down, and drives that via ShutdownExecutor
// once the decision is made.
func (r *Registry) Recover(state checkpoint.RecoveredState) []isolator.CheckpointedExecutor {
	r.mu.Lock()
	defer r.mu.Unlock()

	var checkpointed []isolator.CheckpointedExecutor

	for _, rf := range state.Frameworks {
		fw := newFrameworkState(rf.FrameworkID, rf.Info)
		r.frameworks[rf.FrameworkID] = fw

		for _, run := range rf.Runs {
			sandboxDir := r.sandboxDir(rf.FrameworkID, run.ExecutorID, run.ContainerUUID)

			ex := &executorState{
				Info:          run.Info,
				FrameworkID:   rf.FrameworkID,
				ContainerUUID: run.ContainerUUID,
				SandboxDir:    sandboxDir,
				PID:           run.PID,
				Resources:     run.Info.Resources,
				QueuedTasks:   make(map[string]agentmodel.Task),
				LaunchedTasks: make(map[string]agentmodel.Task),
			}

			if prior, exists := fw.Executors[run.ExecutorID]; exists {
				r.log.Warn().Str("framework_id", rf.FrameworkID).Str("executor_id", run.ExecutorID).
					Str("superseded_run", prior.ContainerUUID).Str("kept_run", run.ContainerUUID).
					Msg("multiple checkpointed runs for one executor; keeping the most recently walked")
			}
			fw.Executors[run.ExecutorID] = ex

			for _, rt := range run.Tasks {
				task := rt.Task
				for _, rec := range rt.Records {
					if rec.Kind == checkpoint.RecordUpdate {
						task.State = rec.Update.State
					}
				}

				fw.taskIndex[task.ID] = run.ExecutorID
				if task.State.Terminal() {
					ex.pushCompleted(task, r.maxCompletedTask)
				} else {
					ex.LaunchedTasks[task.ID] = task
				}
			}

			checkpointed = append(checkpointed, isolator.CheckpointedExecutor{
				FrameworkID:   rf.FrameworkID,
				ExecutorID:    run.ExecutorID,
				ContainerUUID: run.ContainerUUID,
				SandboxDir:    sandboxDir,
				PID:           run.PID,
			})

			if r.onLaunched != nil && run.PID != 0 {
				r.onLaunched(rf.FrameworkID, run.ExecutorID, run.PID)
			}
		}
	}

	return checkpointed
}

// IsExecutorRegistered reports whether executorID has re-registered
// since Recover ran, for the recovery protocol's reconnect-wait poll.
func (r *Registry) IsExecutorRegistered(frameworkID, executorID string) bool {
	r.mu.Lock()
	fw, ok := r.frameworks[frameworkID]
	r.mu.Unlock()
	if !ok {
		return false
	}

	fw.mu.Lock()
	ex, ok := fw.Executors[executorID]
	fw.mu.Unlock()
	if !ok {
		return false
	}

	ex.mu.Lock()
	defer ex.mu.Unlock()
	return ex.Registered
}
