package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/cuemby/warren-agent/pkg/agentmodel"
)

// PutAgentInfo checkpoints the agent's own identity record.
func (s *Store) PutAgentInfo(info agentmodel.AgentInfo) error {
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("checkpoint: marshal slave.info: %w", err)
	}
	return WriteRecord(s.layout.SlaveInfoPath(), data)
}

// GetAgentInfo reads back a previously checkpointed agent identity.
// Returns os.ErrNotExist (wrapped) if the agent has never checkpointed.
func (s *Store) GetAgentInfo() (agentmodel.AgentInfo, error) {
	var info agentmodel.AgentInfo
	data, err := ReadRecord(s.layout.SlaveInfoPath())
	if err != nil {
		return info, err
	}
	if err := json.Unmarshal(data, &info); err != nil {
		return info, fmt.Errorf("checkpoint: unmarshal slave.info: %w", err)
	}
	return info, nil
}

// PutFrameworkInfo checkpoints a framework's registration record.
func (s *Store) PutFrameworkInfo(frameworkID string, info agentmodel.FrameworkInfo) error {
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("checkpoint: marshal framework.info: %w", err)
	}
	return WriteRecord(s.layout.FrameworkInfoPath(frameworkID), data)
}

// GetFrameworkInfo reads back a checkpointed framework record.
func (s *Store) GetFrameworkInfo(frameworkID string) (agentmodel.FrameworkInfo, error) {
	var info agentmodel.FrameworkInfo
	data, err := ReadRecord(s.layout.FrameworkInfoPath(frameworkID))
	if err != nil {
		return info, err
	}
	if err := json.Unmarshal(data, &info); err != nil {
		return info, fmt.Errorf("checkpoint: unmarshal framework.info: %w", err)
	}
	return info, nil
}

// ExecutorRun is everything checkpointed about one run (container
// instantiation) of an executor.
type ExecutorRun struct {
	FrameworkID   string
	ExecutorID    string
	ContainerUUID string
	Info          agentmodel.ExecutorInfo
	PID           int
	ForkedPID     int
}

// PutExecutorRun checkpoints a new executor run: its info record, its
// isolator-observed PID, and optionally a forked/double-forked PID. The
// order mirrors the source: executor.info is written, then pid, so a
// reader that sees a pid file can trust executor.info already exists.
func (s *Store) PutExecutorRun(run ExecutorRun) error {
	data, err := json.Marshal(run.Info)
	if err != nil {
		return fmt.Errorf("checkpoint: marshal executor.info: %w", err)
	}
	if err := WriteRecord(s.layout.ExecutorInfoPath(run.FrameworkID, run.ExecutorID, run.ContainerUUID), data); err != nil {
		return err
	}

	if err := WriteRecord(s.layout.PIDPath(run.FrameworkID, run.ExecutorID, run.ContainerUUID), []byte(strconv.Itoa(run.PID))); err != nil {
		return err
	}

	if run.ForkedPID != 0 {
		if err := WriteRecord(s.layout.ForkedPIDPath(run.FrameworkID, run.ExecutorID, run.ContainerUUID), []byte(strconv.Itoa(run.ForkedPID))); err != nil {
			return err
		}
	}

	return nil
}

// GetExecutorRun reads back a checkpointed executor run.
func (s *Store) GetExecutorRun(frameworkID, executorID, containerUUID string) (ExecutorRun, error) {
	run := ExecutorRun{FrameworkID: frameworkID, ExecutorID: executorID, ContainerUUID: containerUUID}

	data, err := ReadRecord(s.layout.ExecutorInfoPath(frameworkID, executorID, containerUUID))
	if err != nil {
		return run, err
	}
	if err := json.Unmarshal(data, &run.Info); err != nil {
		return run, fmt.Errorf("checkpoint: unmarshal executor.info: %w", err)
	}

	pidData, err := ReadRecord(s.layout.PIDPath(frameworkID, executorID, containerUUID))
	if err != nil {
		return run, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(pidData)))
	if err != nil {
		return run, fmt.Errorf("checkpoint: parse pid: %w", err)
	}
	run.PID = pid

	if forkedData, err := ReadRecord(s.layout.ForkedPIDPath(frameworkID, executorID, containerUUID)); err == nil {
		if forkedPID, err := strconv.Atoi(strings.TrimSpace(string(forkedData))); err == nil {
			run.ForkedPID = forkedPID
		}
	}

	return run, nil
}

// PutTaskInfo checkpoints a task's static launch record (the part that
// never changes across its lifetime: its resources, its executor/
// framework association).
func (s *Store) PutTaskInfo(frameworkID, executorID, containerUUID string, task agentmodel.Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("checkpoint: marshal task.info: %w", err)
	}
	return WriteRecord(s.layout.TaskInfoPath(frameworkID, executorID, containerUUID, task.ID), data)
}

// GetTaskInfo reads back a checkpointed task record.
func (s *Store) GetTaskInfo(frameworkID, executorID, containerUUID, taskID string) (agentmodel.Task, error) {
	var task agentmodel.Task
	data, err := ReadRecord(s.layout.TaskInfoPath(frameworkID, executorID, containerUUID, taskID))
	if err != nil {
		return task, err
	}
	if err := json.Unmarshal(data, &task); err != nil {
		return task, fmt.Errorf("checkpoint: unmarshal task.info: %w", err)
	}
	return task, nil
}

// ListDirNames returns the base names of dir's entries, or an empty
// slice (not an error) if dir does not exist yet — recovery walks
// directories that may simply not have been created.
func ListDirNames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("checkpoint: list %s: %w", dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names, nil
}
