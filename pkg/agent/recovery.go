package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/warren-agent/pkg/agentmodel"
	"github.com/cuemby/warren-agent/pkg/isolator"
	"github.com/cuemby/warren-agent/pkg/metrics"
)

// reconnectPollInterval is how often waitForReconnect checks whether a
// recovered executor has re-registered, well under any realistic
// ExecutorReregisterTimeout.
const reconnectPollInterval = 100 * time.Millisecond

// recover runs the crash-recovery protocol to completion:
//
//  1. read the persisted agent identity; its absence means a cold start
//  2. rebuild the registry's in-memory state from the checkpoint tree
//  3. recover the status-update manager's streams
//  4. hand the isolator every checkpointed executor to re-attach to
//  5. per checkpointed executor, wait for re-registration (bounded by
//     ExecutorReregisterTimeout) or shut it down immediately, depending
//     on the configured recover policy
//  6. resolve Recovered() once every executor from step 5 has settled
//  7. a recovery error is fatal under Strict, logged-and-continue
//     otherwise
//
// recover runs once, synchronously, before Start begins accepting
// messages.
func (a *Agent) recover(ctx context.Context) error {
	a.recoveryTimer = metrics.NewTimer()

	state, err := a.store.Recover()
	if err != nil {
		if a.cfg.Strict {
			return fmt.Errorf("read checkpoint: %w", err)
		}
		a.log.Error().Err(err).Msg("checkpoint recovery failed; starting as if cold")
		state.HasAgent = false
	}

	a.mu.Lock()
	if state.HasAgent {
		a.info = state.AgentInfo
	} else {
		a.info = agentmodel.AgentInfo{ID: a.store.Layout().AgentID}
	}
	a.mu.Unlock()

	if !state.HasAgent {
		if err := a.store.PutAgentInfo(a.info); err != nil {
			return fmt.Errorf("checkpoint agent info: %w", err)
		}
		a.resolveRecovered()
		return nil
	}

	checkpointed := a.registry.Recover(state)
	a.log.Info().Int("executor_count", len(checkpointed)).Msg("rebuilt registry from checkpoint")

	a.status.Recover(ctx, state)

	if err := a.isol.Recover(ctx, checkpointed); err != nil {
		if a.cfg.Strict {
			return fmt.Errorf("isolator recovery: %w", err)
		}
		a.log.Error().Err(err).Msg("isolator recovery failed; continuing in non-strict mode")
	}

	if !a.cfg.Recover.Reconnect {
		for _, ce := range checkpointed {
			a.registry.ShutdownExecutor(ctx, ce.FrameworkID, ce.ExecutorID)
			metrics.RecoveredExecutorsTotal.WithLabelValues("shutdown").Inc()
		}
		a.resolveRecovered()
		return nil
	}

	go a.waitForReconnects(ctx, checkpointed)
	return nil
}

// waitForReconnects waits for every recovered executor to either
// re-register or time out, then resolves Recovered(). Each executor is
// waited on independently so one slow reconnect does not hold up the
// others.
func (a *Agent) waitForReconnects(ctx context.Context, checkpointed []isolator.CheckpointedExecutor) {
	var wg sync.WaitGroup
	for _, ce := range checkpointed {
		wg.Add(1)
		go func(ce isolator.CheckpointedExecutor) {
			defer wg.Done()
			a.waitForReconnect(ctx, ce)
		}(ce)
	}
	wg.Wait()
	a.resolveRecovered()
}

func (a *Agent) waitForReconnect(ctx context.Context, ce isolator.CheckpointedExecutor) {
	deadline := time.NewTimer(a.cfg.ExecutorReregisterTimeout)
	defer deadline.Stop()
	poll := time.NewTicker(reconnectPollInterval)
	defer poll.Stop()

	for {
		select {
		case <-poll.C:
			if a.registry.IsExecutorRegistered(ce.FrameworkID, ce.ExecutorID) {
				metrics.RecoveredExecutorsTotal.WithLabelValues("reconnected").Inc()
				return
			}
		case <-deadline.C:
			a.log.Warn().Str("framework_id", ce.FrameworkID).Str("executor_id", ce.ExecutorID).
				Msg("executor did not reregister within the timeout; shutting it down")
			a.registry.ShutdownExecutor(ctx, ce.FrameworkID, ce.ExecutorID)
			metrics.RecoveredExecutorsTotal.WithLabelValues("timed_out").Inc()
			return
		case <-a.stopCh:
			return
		}
	}
}
