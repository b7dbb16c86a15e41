package checkpoint

import (
	"github.com/cuemby/warren-agent/pkg/agentmodel"
)

// RecoveredTask is a checkpointed task plus its replayed update/ack
// record history, in append order.
type RecoveredTask struct {
	Task    agentmodel.Task
	Records []UpdateRecord
}

// RecoveredRun is one checkpointed executor run (a single container
// instantiation) and the tasks checkpointed under it.
type RecoveredRun struct {
	ExecutorRun
	Tasks []RecoveredTask
}

// RecoveredFramework groups every recovered run by framework.
type RecoveredFramework struct {
	FrameworkID string
	Info        agentmodel.FrameworkInfo
	Runs        []RecoveredRun
}

// RecoveredState is everything step 2-3 of the startup recovery
// protocol needs to rebuild the Registry and the status-update
// manager's streams before any new work is accepted.
type RecoveredState struct {
	AgentInfo  agentmodel.AgentInfo
	HasAgent   bool
	Frameworks []RecoveredFramework
}

// Recover walks the on-disk checkpoint tree and reconstructs everything
// durable at the moment of the last crash. It never mutates the tree:
// callers that decide a run should be discarded do so explicitly via
// RemoveTree. Absence of slave.info is reported via HasAgent=false,
// which callers treat as a cold start (protocol step 1).
func (s *Store) Recover() (RecoveredState, error) {
	var state RecoveredState

	agentInfo, err := s.GetAgentInfo()
	if err == nil {
		state.AgentInfo = agentInfo
		state.HasAgent = true
	}

	frameworkIDs, err := ListDirNames(s.layout.FrameworksRoot())
	if err != nil {
		return state, err
	}

	for _, frameworkID := range frameworkIDs {
		fw := RecoveredFramework{FrameworkID: frameworkID}

		if info, err := s.GetFrameworkInfo(frameworkID); err == nil {
			fw.Info = info
		}

		executorIDs, err := ListDirNames(s.layout.ExecutorsRoot(frameworkID))
		if err != nil {
			return state, err
		}

		for _, executorID := range executorIDs {
			containerUUIDs, err := ListDirNames(s.layout.RunsRoot(frameworkID, executorID))
			if err != nil {
				return state, err
			}

			for _, containerUUID := range containerUUIDs {
				run, err := s.GetExecutorRun(frameworkID, executorID, containerUUID)
				if err != nil {
					// A run missing its executor.info or pid file never
					// finished checkpointing; treat it as if it never
					// happened rather than failing recovery outright.
					continue
				}

				recovered := RecoveredRun{ExecutorRun: run}

				taskIDs, err := ListDirNames(s.layout.TasksRoot(frameworkID, executorID, containerUUID))
				if err != nil {
					return state, err
				}

				for _, taskID := range taskIDs {
					task, err := s.GetTaskInfo(frameworkID, executorID, containerUUID, taskID)
					if err != nil {
						continue
					}
					records, err := s.ReadUpdates(frameworkID, executorID, containerUUID, taskID)
					if err != nil {
						return state, err
					}
					recovered.Tasks = append(recovered.Tasks, RecoveredTask{Task: task, Records: records})
				}

				fw.Runs = append(fw.Runs, recovered)
			}
		}

		state.Frameworks = append(state.Frameworks, fw)
	}

	return state, nil
}
