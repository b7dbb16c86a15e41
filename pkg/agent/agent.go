// Package agent wires the node-agent core together: registration with
// the master, the crash-recovery protocol, disk-usage garbage
// collection, and the reaper-to-registry exit bridge. It is a
// single-threaded actor — every inbound message (from the master, from
// an executor, from a background ticker) is enqueued onto one mailbox
// and processed by one goroutine, so no handler needs its own locking
// beyond what the components it calls already provide.
package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/warren-agent/pkg/agentmodel"
	"github.com/cuemby/warren-agent/pkg/checkpoint"
	"github.com/cuemby/warren-agent/pkg/config"
	"github.com/cuemby/warren-agent/pkg/gc"
	"github.com/cuemby/warren-agent/pkg/isolator"
	"github.com/cuemby/warren-agent/pkg/metrics"
	"github.com/cuemby/warren-agent/pkg/reaper"
	"github.com/cuemby/warren-agent/pkg/transport"
)

// registrationState is the agent's position in the
// disconnected -> registering -> registered state machine. A master
// redetected while an agent ID is already known enters reregistering
// instead of registering, so the master can distinguish a fresh join
// from a reconnect.
type registrationState int

const (
	disconnected registrationState = iota
	registering
	registered
	reregistering
)

func (s registrationState) String() string {
	switch s {
	case disconnected:
		return "disconnected"
	case registering:
		return "registering"
	case registered:
		return "registered"
	case reregistering:
		return "reregistering"
	default:
		return "unknown"
	}
}

// Registry is the subset of *registry.Registry the agent actor drives
// directly, named here so tests can substitute a fake.
type Registry interface {
	RunTask(ctx context.Context, msg transport.RunTaskMessage) error
	KillTask(ctx context.Context, frameworkID, taskID string) error
	ShutdownFramework(ctx context.Context, frameworkID string)
	ShutdownExecutor(ctx context.Context, frameworkID, executorID string)
	ExecutorRegistered(ctx context.Context, frameworkID, executorID string)
	ExecutorTerminated(ctx context.Context, frameworkID, executorID string, exitCode int, known bool)
	StatusUpdate(ctx context.Context, update agentmodel.StatusUpdate) error
	Recover(state checkpoint.RecoveredState) []isolator.CheckpointedExecutor
	IsExecutorRegistered(frameworkID, executorID string) bool
	Stats() (valid, invalid int64)
	Occupancy() (frameworks, executors, queuedTasks, launchedTasks, completedExecutors, completedTasks int)
}

// StatusManager is the subset of *statusmanager.Manager the agent actor
// drives directly.
type StatusManager interface {
	Update(ctx context.Context, update agentmodel.StatusUpdate) error
	Ack(ctx context.Context, ack agentmodel.Ack) error
	ExecutorGone(ctx context.Context, frameworkID, executorID string, knownExitCode int)
	Recover(ctx context.Context, state checkpoint.RecoveredState)
	Close()
	Stats() (pending, forwarded, acked int)
}

// Deps bundles every collaborator the agent orchestrates. All of them
// are constructed by the caller (cmd/agent) so the agent itself owns no
// wiring decisions about backends.
type Deps struct {
	Store    *checkpoint.Store
	Registry Registry
	Status   StatusManager
	Isolator isolator.Isolator
	Reaper   *reaper.Reaper
	Master   transport.MasterTransport
	Executor transport.ExecutorTransport
}

// Agent is the node-agent core: the actor that owns registration state,
// drives the crash-recovery protocol at startup, and bridges the
// reaper's PID-keyed exit notifications to the registry's
// framework/executor-keyed model.
type Agent struct {
	log zerolog.Logger
	cfg config.Config

	store    *checkpoint.Store
	registry Registry
	status   StatusManager
	isol     isolator.Isolator
	reap     *reaper.Reaper
	master   transport.MasterTransport
	execTr   transport.ExecutorTransport
	gcCol    *gc.Collector
	metCol   *metricsCollector
	certWat  *certWatcher

	mailbox chan func()
	stopCh  chan struct{}
	doneCh  chan struct{}

	mu             sync.Mutex
	state          registrationState
	everRegistered bool
	info           agentmodel.AgentInfo

	recoveredCh   chan struct{}
	recoveredOnce sync.Once
	recoveryTimer *metrics.Timer

	pidMu   sync.Mutex
	pidExec map[int]executorKey
}

type executorKey struct {
	frameworkID string
	executorID  string
}

// New constructs an Agent. It performs no I/O; call Start to run the
// recovery protocol and begin processing.
func New(log zerolog.Logger, cfg config.Config, deps Deps) *Agent {
	a := &Agent{
		log:         log.With().Str("component", "agent").Logger(),
		cfg:         cfg,
		store:       deps.Store,
		registry:    deps.Registry,
		status:      deps.Status,
		isol:        deps.Isolator,
		reap:        deps.Reaper,
		master:      deps.Master,
		execTr:      deps.Executor,
		mailbox:     make(chan func(), 256),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
		state:       disconnected,
		recoveredCh: make(chan struct{}),
		pidExec:     make(map[int]executorKey),
	}

	a.gcCol = gc.New(
		log,
		cfg.WorkDir,
		gc.LinearDecay(cfg.GCDelay, time.Minute),
		gc.StatfsUsage,
		cfg.DiskWatchInterval,
	)

	a.metCol = newMetricsCollector(a.registry, a.status, cfg.MetricsInterval)
	a.certWat = newCertWatcher(log, cfg.CertDir, cfg.CertCheckInterval)

	return a
}

// Start runs the recovery protocol, then begins accepting messages: the
// mailbox loop, the reaper, the GC sweep loop, and the master transport
// subscription. When Recover.Reconnect is set, the wait for checkpointed
// executors to re-register continues in the background after Start
// returns; Recovered closes once recovery has fully settled.
func (a *Agent) Start(ctx context.Context) error {
	if err := a.recover(ctx); err != nil {
		return fmt.Errorf("agent: recovery failed: %w", err)
	}

	a.reap.AddListener(a.onProcessExit)
	a.reap.Start()
	a.gcCol.Start(ctx)
	a.metCol.Start()
	a.certWat.Start()
	a.master.Subscribe(masterHandler{a})

	go a.run()

	a.enqueue(func() {
		a.beginRegistration(ctx)
	})

	return nil
}

// Stop halts every background loop and unregisters from the master if
// currently registered.
func (a *Agent) Stop(ctx context.Context) {
	a.mu.Lock()
	st := a.state
	agentID := a.info.ID
	a.mu.Unlock()

	if st == registered || st == reregistering {
		if err := a.master.Unregister(ctx, agentID); err != nil {
			a.log.Warn().Err(err).Msg("failed to unregister from master during shutdown")
		}
	}

	a.certWat.Stop()
	a.metCol.Stop()
	a.gcCol.Stop()
	a.reap.Stop()
	a.status.Close()

	close(a.stopCh)
	<-a.doneCh
}

// Recovered closes once the recovery protocol's step 6 has resolved:
// every checkpointed executor has either re-registered or been shut
// down. RunTask is rejected (synthesized TASK_LOST) before this point.
func (a *Agent) Recovered() <-chan struct{} {
	return a.recoveredCh
}

func (a *Agent) run() {
	defer close(a.doneCh)
	for {
		select {
		case fn := <-a.mailbox:
			fn()
		case <-a.stopCh:
			return
		}
	}
}

// enqueue places fn on the mailbox for serialized execution. Handlers
// that arrive before Start's goroutine is running (there are none in
// practice, since Subscribe happens last) would block forever on a full
// mailbox rather than silently drop, which is why the mailbox is sized
// generously rather than unbounded: an agent that cannot keep up with
// its own mailbox has a real problem worth surfacing as backpressure.
func (a *Agent) enqueue(fn func()) {
	select {
	case a.mailbox <- fn:
	case <-a.stopCh:
	}
}

func (a *Agent) resolveRecovered() {
	a.recoveredOnce.Do(func() {
		if a.recoveryTimer != nil {
			a.recoveryTimer.ObserveDuration(metrics.RecoveryDuration)
		}
		close(a.recoveredCh)
	})
}
