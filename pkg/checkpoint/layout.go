package checkpoint

import "path/filepath"

// Layout resolves the well-defined directory tree under work_dir:
//
//	meta/slaves/<agent-id>/
//	  slave.info
//	  frameworks/<framework-id>/
//	    framework.info
//	    executors/<executor-id>/
//	      runs/<container-uuid>/
//	        executor.info
//	        pid
//	        forked.pid
//	        tasks/<task-id>/
//	          task.info
//	          updates
type Layout struct {
	WorkDir string
	AgentID string
}

func (l Layout) slaveDir() string {
	return filepath.Join(l.WorkDir, "meta", "slaves", l.AgentID)
}

// SlaveInfoPath is the path to the persisted AgentInfo record.
func (l Layout) SlaveInfoPath() string {
	return filepath.Join(l.slaveDir(), "slave.info")
}

func (l Layout) frameworkDir(frameworkID string) string {
	return filepath.Join(l.slaveDir(), "frameworks", frameworkID)
}

// FrameworkInfoPath is the path to a framework's persisted info record.
func (l Layout) FrameworkInfoPath(frameworkID string) string {
	return filepath.Join(l.frameworkDir(frameworkID), "framework.info")
}

func (l Layout) executorDir(frameworkID, executorID string) string {
	return filepath.Join(l.frameworkDir(frameworkID), "executors", executorID)
}

func (l Layout) runDir(frameworkID, executorID, containerUUID string) string {
	return filepath.Join(l.executorDir(frameworkID, executorID), "runs", containerUUID)
}

// ExecutorInfoPath is the path to a given run's persisted executor info.
func (l Layout) ExecutorInfoPath(frameworkID, executorID, containerUUID string) string {
	return filepath.Join(l.runDir(frameworkID, executorID, containerUUID), "executor.info")
}

// PIDPath is the path to the persisted isolator-observed PID.
func (l Layout) PIDPath(frameworkID, executorID, containerUUID string) string {
	return filepath.Join(l.runDir(frameworkID, executorID, containerUUID), "pid")
}

// ForkedPIDPath is the path to the persisted forked-process PID, when the
// executor's launcher double-forks (matches the source's forked.pid).
func (l Layout) ForkedPIDPath(frameworkID, executorID, containerUUID string) string {
	return filepath.Join(l.runDir(frameworkID, executorID, containerUUID), "forked.pid")
}

func (l Layout) taskDir(frameworkID, executorID, containerUUID, taskID string) string {
	return filepath.Join(l.runDir(frameworkID, executorID, containerUUID), "tasks", taskID)
}

// TaskInfoPath is the path to a persisted task record.
func (l Layout) TaskInfoPath(frameworkID, executorID, containerUUID, taskID string) string {
	return filepath.Join(l.taskDir(frameworkID, executorID, containerUUID, taskID), "task.info")
}

// UpdatesLogPath is the path to a task's append-only status-update log.
func (l Layout) UpdatesLogPath(frameworkID, executorID, containerUUID, taskID string) string {
	return filepath.Join(l.taskDir(frameworkID, executorID, containerUUID, taskID), "updates")
}

// FrameworksRoot is the directory that, when listed, enumerates every
// checkpointed framework-ID. Used by recovery.
func (l Layout) FrameworksRoot() string {
	return filepath.Join(l.slaveDir(), "frameworks")
}

// ExecutorsRoot enumerates every checkpointed executor-ID for a framework.
func (l Layout) ExecutorsRoot(frameworkID string) string {
	return filepath.Join(l.frameworkDir(frameworkID), "executors")
}

// RunsRoot enumerates every checkpointed container-UUID (run) for an executor.
func (l Layout) RunsRoot(frameworkID, executorID string) string {
	return filepath.Join(l.executorDir(frameworkID, executorID), "runs")
}

// TasksRoot enumerates every checkpointed task-ID for a run.
func (l Layout) TasksRoot(frameworkID, executorID, containerUUID string) string {
	return filepath.Join(l.runDir(frameworkID, executorID, containerUUID), "tasks")
}
