// Package transport defines the logical message interfaces the agent
// core exchanges with the master and with executor processes. The wire
// framing of these messages is left to whatever backend is wired in;
// this package fixes only the capability set the core depends on,
// mirroring how pkg/isolator fixes the executor-launching capability
// set without choosing a backend.
package transport

import (
	"context"

	"github.com/cuemby/warren-agent/pkg/agentmodel"
)

// RunTaskMessage is delivered by the master to launch a new task.
type RunTaskMessage struct {
	Framework agentmodel.FrameworkInfo
	Executor  agentmodel.ExecutorInfo
	Task      agentmodel.Task
}

// KillTaskMessage is delivered by the master to terminate a task.
type KillTaskMessage struct {
	FrameworkID string
	TaskID      string
}

// ShutdownFrameworkMessage is delivered by the master to tear down every
// executor belonging to a framework.
type ShutdownFrameworkMessage struct {
	FrameworkID string
}

// FrameworkMessage is an opaque, framework-defined payload routed
// between a framework's scheduler and its executors.
type FrameworkMessage struct {
	FrameworkID string
	ExecutorID  string
	Data        []byte
}

// ReregisterExecutorMessage is sent to a previously-launched executor
// during recovery, carrying the agent's view of its tasks and updates
// so the executor can reconcile and resume reporting.
type ReregisterExecutorMessage struct {
	ExecutorID string
	Tasks      []agentmodel.Task
	Updates    []agentmodel.StatusUpdate
}

// MasterInbound is the set of handlers the agent actor registers to
// receive messages originating from the master. Implementations of
// MasterTransport call these as messages arrive off the wire.
type MasterInbound interface {
	OnRunTask(RunTaskMessage)
	OnKillTask(KillTaskMessage)
	OnShutdownFramework(ShutdownFrameworkMessage)
	OnStatusUpdateAck(agentmodel.Ack)
	OnFrameworkMessage(FrameworkMessage)
	OnMasterDetected()
	OnMasterLost()
}

// MasterTransport is everything the agent core needs to talk to the
// master: registration, status reporting, framework-message relay, and
// inbound message subscription.
type MasterTransport interface {
	// Register announces this agent to the currently-detected master,
	// returning the agent ID the master assigned (or confirmed, on a
	// warm start where AgentInfo.ID is already populated).
	Register(ctx context.Context, info agentmodel.AgentInfo) (agentID string, err error)

	// Reregister re-announces a previously known agent ID after a
	// reconnect, for the master to reconcile against its own records.
	Reregister(ctx context.Context, info agentmodel.AgentInfo) error

	// Unregister announces this agent is shutting down cleanly.
	Unregister(ctx context.Context, agentID string) error

	// SendStatusUpdate forwards one update to the master. The manager
	// calls this from forwarded(U); delivery failure is reported as an
	// error so the retry timer in pkg/statusmanager can fire again
	// rather than this call blocking or retrying internally.
	SendStatusUpdate(ctx context.Context, update agentmodel.StatusUpdate) error

	// SendFrameworkMessage relays an opaque scheduler-bound payload.
	SendFrameworkMessage(ctx context.Context, msg FrameworkMessage) error

	// Subscribe registers the agent actor's inbound handlers. Called
	// once during agent startup.
	Subscribe(inbound MasterInbound)
}

// ExecutorInbound is the set of handlers an agent registers to receive
// messages originating from a specific executor.
type ExecutorInbound interface {
	OnRegisterExecutor(executorID string)
	OnStatusUpdate(agentmodel.StatusUpdate)
	OnFrameworkMessage(FrameworkMessage)
}

// ExecutorTransport is everything the agent core needs to talk to a
// launched executor process over its own side channel (distinct from
// the isolator, which only starts/stops/monitors the process).
type ExecutorTransport interface {
	// RunTask delivers a task assignment to an already-running executor.
	RunTask(ctx context.Context, executorID string, task agentmodel.Task) error

	// KillTask delivers a kill request to an already-running executor.
	KillTask(ctx context.Context, executorID string, taskID string) error

	// ReregisterExecutor delivers reconciliation state during recovery.
	ReregisterExecutor(ctx context.Context, msg ReregisterExecutorMessage) error

	// Shutdown requests a graceful executor shutdown (phase one of the
	// two-phase shutdown; the isolator's Destroy is phase two).
	Shutdown(ctx context.Context, executorID string) error

	// SendFrameworkMessage relays an opaque framework-bound payload to
	// the executor.
	SendFrameworkMessage(ctx context.Context, msg FrameworkMessage) error

	// Subscribe registers the agent actor's inbound handlers for a
	// given executor connection.
	Subscribe(executorID string, inbound ExecutorInbound)
}
