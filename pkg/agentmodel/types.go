// Package agentmodel defines the data model shared by every component of
// the node-agent core: the identity of the node itself, the frameworks
// and executors it hosts, the tasks those executors run, and the status
// updates that describe task-state transitions.
package agentmodel

import (
	"time"

	"github.com/google/uuid"
)

// AgentInfo is the identity of this node as known to the manager.
type AgentInfo struct {
	ID         string
	Hostname   string
	Resources  Resources
	Attributes map[string]string
}

// Resources is a resource vector. The arithmetic used to combine and
// compare these (the "resource-accounting arithmetic library") is an
// external collaborator; this core only sums and stores them.
type Resources struct {
	CPUCores    float64
	MemoryBytes int64
	DiskBytes   int64
}

// Add returns the element-wise sum of two resource vectors.
func (r Resources) Add(o Resources) Resources {
	return Resources{
		CPUCores:    r.CPUCores + o.CPUCores,
		MemoryBytes: r.MemoryBytes + o.MemoryBytes,
		DiskBytes:   r.DiskBytes + o.DiskBytes,
	}
}

// FrameworkInfo describes a tenant's registration details.
type FrameworkInfo struct {
	Name            string
	User            string
	FailoverTimeout time.Duration
}

// ExecutorInfo describes how to launch an executor. A task with an inline
// command but no ExecutorInfo causes the registry to synthesize one whose
// executable is the command-executor (see newCommandExecutorInfo in pkg/registry).
type ExecutorInfo struct {
	ExecutorID  string
	FrameworkID string
	Command     string
	Args        []string
	Env         []string
	Resources   Resources
	IsCommand   bool // true when synthesized from a bare command
}

// TaskState is the task state machine's current state.
type TaskState string

const (
	TaskStaging  TaskState = "STAGING"
	TaskStarting TaskState = "STARTING"
	TaskRunning  TaskState = "RUNNING"
	TaskFinished TaskState = "FINISHED"
	TaskFailed   TaskState = "FAILED"
	TaskKilled   TaskState = "KILLED"
	TaskLost     TaskState = "LOST"
)

// Terminal reports whether s is one of the task's terminal states.
func (s TaskState) Terminal() bool {
	switch s {
	case TaskFinished, TaskFailed, TaskKilled, TaskLost:
		return true
	default:
		return false
	}
}

// Task is a unit of work dispatched to exactly one executor.
type Task struct {
	ID          string
	ExecutorID  string
	FrameworkID string
	Resources   Resources
	State       TaskState
	CreatedAt   time.Time
}

// StatusUpdate records a task-state transition. Every update is uniquely
// identified by UUID; updates for the same TaskID are totally ordered by
// CreatedAt and must be delivered to the manager in that order.
type StatusUpdate struct {
	UUID        uuid.UUID
	FrameworkID string
	ExecutorID  string
	TaskID      string
	State       TaskState
	CreatedAt   time.Time
	Data        []byte
}

// NewStatusUpdate builds a status update with a fresh UUID and the
// current time as creation timestamp.
func NewStatusUpdate(frameworkID, executorID, taskID string, state TaskState, data []byte) StatusUpdate {
	return StatusUpdate{
		UUID:        uuid.New(),
		FrameworkID: frameworkID,
		ExecutorID:  executorID,
		TaskID:      taskID,
		State:       state,
		CreatedAt:   time.Now(),
		Data:        data,
	}
}

// Ack correlates a manager-side acknowledgement with the update it closes.
type Ack struct {
	UUID        uuid.UUID
	TaskID      string
	FrameworkID string
}
