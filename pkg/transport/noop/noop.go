// Package noop implements transport.MasterTransport and
// transport.ExecutorTransport with no wire I/O at all: every send is
// logged and discarded. It is the agent's standalone-mode backend, for
// running the recovery protocol, the registry, and the status-update
// manager against real executors with no master attached — useful for
// local development and for exercising the core without a cluster.
// A real deployment replaces this with a backend that actually talks to
// a master and to executor processes; pkg/transport's interfaces are
// the contract such a backend implements.
package noop

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/cuemby/warren-agent/pkg/agentmodel"
	"github.com/cuemby/warren-agent/pkg/transport"
)

var (
	_ transport.MasterTransport   = (*MasterTransport)(nil)
	_ transport.ExecutorTransport = (*ExecutorTransport)(nil)
)

// MasterTransport discards every outbound call and never delivers
// inbound master messages; Subscribe only logs the call and keeps no
// reference to the handlers.
type MasterTransport struct {
	log zerolog.Logger
}

// NewMasterTransport constructs a standalone-mode MasterTransport.
func NewMasterTransport(log zerolog.Logger) *MasterTransport {
	return &MasterTransport{log: log.With().Str("component", "transport.noop.master").Logger()}
}

func (t *MasterTransport) Register(_ context.Context, info agentmodel.AgentInfo) (string, error) {
	t.log.Info().Str("agent_id", info.ID).Msg("standalone mode: skipping master registration")
	if info.ID != "" {
		return info.ID, nil
	}
	return "standalone", nil
}

func (t *MasterTransport) Reregister(_ context.Context, info agentmodel.AgentInfo) error {
	t.log.Info().Str("agent_id", info.ID).Msg("standalone mode: skipping master reregistration")
	return nil
}

func (t *MasterTransport) Unregister(_ context.Context, agentID string) error {
	t.log.Info().Str("agent_id", agentID).Msg("standalone mode: skipping master unregistration")
	return nil
}

func (t *MasterTransport) SendStatusUpdate(_ context.Context, update agentmodel.StatusUpdate) error {
	t.log.Debug().Str("task_id", update.TaskID).Str("state", string(update.State)).
		Msg("standalone mode: dropping status update, no master attached")
	return nil
}

func (t *MasterTransport) SendFrameworkMessage(_ context.Context, msg transport.FrameworkMessage) error {
	t.log.Debug().Str("framework_id", msg.FrameworkID).Msg("standalone mode: dropping framework message, no master attached")
	return nil
}

func (t *MasterTransport) Subscribe(transport.MasterInbound) {
	t.log.Debug().Msg("standalone mode: no master connection to subscribe handlers to")
}

// ExecutorTransport discards every outbound call to executors; in
// standalone mode executors are launched and monitored by the isolator
// and reaper but receive no task/kill/shutdown side-channel messages.
type ExecutorTransport struct {
	log zerolog.Logger
}

// NewExecutorTransport constructs a standalone-mode ExecutorTransport.
func NewExecutorTransport(log zerolog.Logger) *ExecutorTransport {
	return &ExecutorTransport{log: log.With().Str("component", "transport.noop.executor").Logger()}
}

func (t *ExecutorTransport) RunTask(_ context.Context, executorID string, task agentmodel.Task) error {
	t.log.Debug().Str("executor_id", executorID).Str("task_id", task.ID).
		Msg("standalone mode: no executor side channel to deliver run-task over")
	return nil
}

func (t *ExecutorTransport) KillTask(_ context.Context, executorID, taskID string) error {
	t.log.Debug().Str("executor_id", executorID).Str("task_id", taskID).
		Msg("standalone mode: no executor side channel to deliver kill-task over")
	return nil
}

func (t *ExecutorTransport) ReregisterExecutor(_ context.Context, msg transport.ReregisterExecutorMessage) error {
	t.log.Debug().Str("executor_id", msg.ExecutorID).Msg("standalone mode: no executor side channel to reconcile over")
	return nil
}

func (t *ExecutorTransport) Shutdown(_ context.Context, executorID string) error {
	t.log.Debug().Str("executor_id", executorID).Msg("standalone mode: no graceful-shutdown side channel; isolator destroy still applies")
	return nil
}

func (t *ExecutorTransport) SendFrameworkMessage(_ context.Context, msg transport.FrameworkMessage) error {
	t.log.Debug().Str("executor_id", msg.ExecutorID).Msg("standalone mode: dropping framework message, no executor side channel")
	return nil
}

func (t *ExecutorTransport) Subscribe(executorID string, _ transport.ExecutorInbound) {
	t.log.Debug().Str("executor_id", executorID).Msg("standalone mode: no executor side channel to subscribe handlers to")
}

// NotifyExecutorAck satisfies statusmanager.ExecutorNotifier: there is
// no executor side channel to deliver the ack over in standalone mode.
func (t *ExecutorTransport) NotifyExecutorAck(executorID string, ack agentmodel.Ack) {
	t.log.Debug().Str("executor_id", executorID).Str("task_id", ack.TaskID).
		Msg("standalone mode: dropping ack notification, no executor side channel")
}
