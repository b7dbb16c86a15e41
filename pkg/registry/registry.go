// Package registry is the authoritative in-memory model of frameworks,
// executors, and tasks: it owns their lifecycle transitions and the
// bounded ring buffers of completed entities, dispatching isolator
// launches and status-update routing but owning none of the I/O itself.
package registry

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cuemby/warren-agent/pkg/agentmodel"
	"github.com/cuemby/warren-agent/pkg/checkpoint"
	"github.com/cuemby/warren-agent/pkg/invariant"
	"github.com/cuemby/warren-agent/pkg/isolator"
	"github.com/cuemby/warren-agent/pkg/metrics"
	"github.com/cuemby/warren-agent/pkg/transport"
)

// StatusUpdater is the subset of pkg/statusmanager.Manager the registry
// depends on: routing a status update through the delivery pipeline,
// including the terminal updates the registry itself synthesizes when
// an executor disappears.
type StatusUpdater interface {
	Update(ctx context.Context, update agentmodel.StatusUpdate) error
}

// executorState is one launched (or launching) executor instance.
type executorState struct {
	mu sync.Mutex

	Info          agentmodel.ExecutorInfo
	FrameworkID   string
	ContainerUUID string
	SandboxDir    string
	PID           int
	Resources     agentmodel.Resources
	Registered    bool
	ShuttingDown  bool

	QueuedTasks   map[string]agentmodel.Task
	LaunchedTasks map[string]agentmodel.Task
	Completed     []agentmodel.Task

	shutdownTimer *time.Timer
}

func newExecutorState(info agentmodel.ExecutorInfo, frameworkID string) *executorState {
	return &executorState{
		Info:          info,
		FrameworkID:   frameworkID,
		ContainerUUID: uuid.New().String(),
		Resources:     info.Resources,
		QueuedTasks:   make(map[string]agentmodel.Task),
		LaunchedTasks: make(map[string]agentmodel.Task),
	}
}

func (ex *executorState) hasTask(taskID string) bool {
	if _, ok := ex.QueuedTasks[taskID]; ok {
		return true
	}
	_, ok := ex.LaunchedTasks[taskID]
	return ok
}

func (ex *executorState) pushCompleted(task agentmodel.Task, maxCompleted int) {
	ex.Completed = append(ex.Completed, task)
	if len(ex.Completed) > maxCompleted {
		ex.Completed = ex.Completed[len(ex.Completed)-maxCompleted:]
	}
}

// frameworkState is one tenant's executors and bookkeeping.
type frameworkState struct {
	mu sync.Mutex

	Info         agentmodel.FrameworkInfo
	FrameworkID  string
	Executors    map[string]*executorState
	Completed    []agentmodel.ExecutorInfo
	ShuttingDown bool

	// taskIndex maps a task-ID to the executor that owns it, so
	// killTask/statusUpdate callers that only carry a task-ID can find
	// the right executor without scanning every one.
	taskIndex map[string]string
}

func newFrameworkState(frameworkID string, info agentmodel.FrameworkInfo) *frameworkState {
	return &frameworkState{
		FrameworkID: frameworkID,
		Info:        info,
		Executors:   make(map[string]*executorState),
		taskIndex:   make(map[string]string),
	}
}

func (fw *frameworkState) pushCompletedExecutor(info agentmodel.ExecutorInfo, maxCompleted int) {
	fw.Completed = append(fw.Completed, info)
	if len(fw.Completed) > maxCompleted {
		fw.Completed = fw.Completed[len(fw.Completed)-maxCompleted:]
	}
}

// Registry owns every framework, executor, and task the agent currently
// knows about.
type Registry struct {
	log           zerolog.Logger
	store         *checkpoint.Store
	isolator      isolator.Isolator
	statusUpdater StatusUpdater
	executors     transport.ExecutorTransport

	workDir          string
	launcherDir      string
	shutdownGrace    time.Duration
	maxCompletedExec int
	maxCompletedTask int
	onLaunched       func(frameworkID, executorID string, pid int)

	mu         sync.Mutex
	frameworks map[string]*frameworkState

	validUpdates   int64
	invalidUpdates int64
}

// Config bundles the tunables that shape registry behavior.
type Config struct {
	WorkDir                     string
	LauncherDir                 string
	ExecutorShutdownGracePeriod time.Duration
	MaxCompletedExecutors       int
	MaxCompletedTasks           int

	// OnExecutorLaunched, if set, is called synchronously right after an
	// executor's process/container is launched and its PID is known, so
	// a caller (the agent) can subscribe to its transport connection and
	// hand its PID to the reaper before any message involving it can
	// possibly arrive.
	OnExecutorLaunched func(frameworkID, executorID string, pid int)
}

// New constructs a Registry. isol launches and destroys executors;
// statusUpdater is where every status update (real or synthesized) is
// routed; execTransport delivers task/kill/shutdown messages to
// already-running executor processes.
func New(log zerolog.Logger, store *checkpoint.Store, isol isolator.Isolator, statusUpdater StatusUpdater, execTransport transport.ExecutorTransport, cfg Config) *Registry {
	return &Registry{
		log:              log.With().Str("component", "registry").Logger(),
		store:            store,
		isolator:         isol,
		statusUpdater:    statusUpdater,
		executors:        execTransport,
		workDir:          cfg.WorkDir,
		launcherDir:      cfg.LauncherDir,
		shutdownGrace:    cfg.ExecutorShutdownGracePeriod,
		maxCompletedExec: cfg.MaxCompletedExecutors,
		maxCompletedTask: cfg.MaxCompletedTasks,
		onLaunched:       cfg.OnExecutorLaunched,
		frameworks:       make(map[string]*frameworkState),
	}
}

// Stats reports the valid/invalid status-update counters the registry
// maintains for observability.
func (r *Registry) Stats() (valid, invalid int64) {
	return atomic.LoadInt64(&r.validUpdates), atomic.LoadInt64(&r.invalidUpdates)
}

// Occupancy reports the current size of every bounded collection the
// registry holds, for observability: executors and tasks currently
// live, plus the number of entries held in the frameworks' and
// executors' completed rings.
func (r *Registry) Occupancy() (frameworks, executors, queuedTasks, launchedTasks, completedExecutors, completedTasks int) {
	r.mu.Lock()
	fws := make([]*frameworkState, 0, len(r.frameworks))
	for _, fw := range r.frameworks {
		fws = append(fws, fw)
	}
	r.mu.Unlock()

	frameworks = len(fws)
	for _, fw := range fws {
		fw.mu.Lock()
		executors += len(fw.Executors)
		completedExecutors += len(fw.Completed)
		for _, ex := range fw.Executors {
			ex.mu.Lock()
			queuedTasks += len(ex.QueuedTasks)
			launchedTasks += len(ex.LaunchedTasks)
			completedTasks += len(ex.Completed)
			ex.mu.Unlock()
		}
		fw.mu.Unlock()
	}
	return frameworks, executors, queuedTasks, launchedTasks, completedExecutors, completedTasks
}

func (r *Registry) getOrCreateFramework(frameworkID string, info agentmodel.FrameworkInfo) (fw *frameworkState, created bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	fw, ok := r.frameworks[frameworkID]
	if ok {
		return fw, false
	}
	fw = newFrameworkState(frameworkID, info)
	r.frameworks[frameworkID] = fw
	return fw, true
}

func (r *Registry) sandboxDir(frameworkID, executorID, containerUUID string) string {
	return filepath.Join(r.workDir, "slaves", "executors", frameworkID, executorID, containerUUID)
}

// RunTask ensures the framework and executor exist, resolves a
// command-executor when the task carries an inline command rather than
// a full ExecutorInfo, and either dispatches the task immediately (an
// already-registered executor) or queues it for dispatch once the
// executor registers.
func (r *Registry) RunTask(ctx context.Context, msg transport.RunTaskMessage) error {
	frameworkID := msg.Task.FrameworkID
	fw, created := r.getOrCreateFramework(frameworkID, msg.Framework)
	if created {
		if err := r.store.PutFrameworkInfo(frameworkID, msg.Framework); err != nil {
			r.log.Error().Err(err).Str("framework_id", frameworkID).Msg("failed to checkpoint framework")
		}
	}

	fw.mu.Lock()
	if fw.ShuttingDown {
		fw.mu.Unlock()
		return r.synthesizeLost(ctx, frameworkID, msg.Executor.ExecutorID, msg.Task.ID, "framework is shutting down")
	}

	executorInfo := msg.Executor
	if executorInfo.ExecutorID == "" {
		executorInfo = newCommandExecutorInfo("cmd-"+msg.Task.ID, frameworkID, executorInfo.Command, r.launcherDir, msg.Task.Resources)
	}

	ex, exists := fw.Executors[executorInfo.ExecutorID]
	if exists && ex.ShuttingDown {
		fw.mu.Unlock()
		return r.synthesizeLost(ctx, frameworkID, executorInfo.ExecutorID, msg.Task.ID, "executor is shutting down")
	}
	if !exists {
		ex = newExecutorState(executorInfo, frameworkID)
		fw.Executors[executorInfo.ExecutorID] = ex
	}
	fw.taskIndex[msg.Task.ID] = executorInfo.ExecutorID
	fw.mu.Unlock()

	ex.mu.Lock()
	invariant.Check(!ex.hasTask(msg.Task.ID), "duplicate task-id %s on executor %s", msg.Task.ID, executorInfo.ExecutorID)
	ex.QueuedTasks[msg.Task.ID] = msg.Task
	registered := ex.Registered
	ex.mu.Unlock()

	if err := r.store.PutTaskInfo(frameworkID, executorInfo.ExecutorID, ex.ContainerUUID, msg.Task); err != nil {
		r.log.Error().Err(err).Str("task_id", msg.Task.ID).Msg("failed to checkpoint task")
	}

	if !exists {
		return r.launchExecutor(ctx, fw, ex)
	}
	if registered {
		return r.dispatchTask(ctx, ex, msg.Task)
	}
	return nil
}

func (r *Registry) launchExecutor(ctx context.Context, fw *frameworkState, ex *executorState) error {
	ex.mu.Lock()
	sandboxDir := r.sandboxDir(fw.FrameworkID, ex.Info.ExecutorID, ex.ContainerUUID)
	ex.SandboxDir = sandboxDir
	resources := ex.Info.Resources
	ex.mu.Unlock()

	pid, termination, err := r.isolator.LaunchExecutor(ctx, fw.Info, ex.Info, sandboxDir, resources)
	if err != nil {
		r.log.Error().Err(err).Str("executor_id", ex.Info.ExecutorID).Msg("executor launch failed")
		return r.failQueuedTasks(ctx, fw, ex, &isolator.LaunchError{ExecutorID: ex.Info.ExecutorID, Err: err})
	}

	ex.mu.Lock()
	ex.PID = pid
	ex.mu.Unlock()

	metrics.ExecutorLaunchesTotal.Inc()

	if r.onLaunched != nil {
		r.onLaunched(fw.FrameworkID, ex.Info.ExecutorID, pid)
	}

	if err := r.store.PutExecutorRun(checkpoint.ExecutorRun{
		FrameworkID:   fw.FrameworkID,
		ExecutorID:    ex.Info.ExecutorID,
		ContainerUUID: ex.ContainerUUID,
		Info:          ex.Info,
		PID:           pid,
	}); err != nil {
		r.log.Error().Err(err).Str("executor_id", ex.Info.ExecutorID).Msg("failed to checkpoint executor run")
	}

	go r.watchTermination(fw.FrameworkID, ex.Info.ExecutorID, termination)

	return nil
}

// watchTermination waits for the isolator's one-shot termination signal
// and finalizes the executor when it fires.
func (r *Registry) watchTermination(frameworkID, executorID string, termination <-chan isolator.Termination) {
	term, ok := <-termination
	if !ok {
		return
	}
	metrics.ExecutorTerminationsTotal.WithLabelValues("isolator").Inc()
	r.ExecutorTerminated(context.Background(), frameworkID, executorID, term.ExitCode, term.Known)
}

func (r *Registry) failQueuedTasks(ctx context.Context, fw *frameworkState, ex *executorState, launchErr error) error {
	ex.mu.Lock()
	queued := make([]agentmodel.Task, 0, len(ex.QueuedTasks))
	for _, t := range ex.QueuedTasks {
		queued = append(queued, t)
	}
	ex.QueuedTasks = make(map[string]agentmodel.Task)
	ex.mu.Unlock()

	fw.mu.Lock()
	delete(fw.Executors, ex.Info.ExecutorID)
	fw.mu.Unlock()

	for _, t := range queued {
		if err := r.statusUpdater.Update(ctx, agentmodel.NewStatusUpdate(fw.FrameworkID, ex.Info.ExecutorID, t.ID, agentmodel.TaskFailed, []byte(launchErr.Error()))); err != nil {
			r.log.Error().Err(err).Str("task_id", t.ID).Msg("failed to report launch failure")
		}
	}
	return launchErr
}

func (r *Registry) synthesizeLost(ctx context.Context, frameworkID, executorID, taskID, reason string) error {
	return r.statusUpdater.Update(ctx, agentmodel.NewStatusUpdate(frameworkID, executorID, taskID, agentmodel.TaskLost, []byte(reason)))
}

func (r *Registry) dispatchTask(ctx context.Context, ex *executorState, task agentmodel.Task) error {
	ex.mu.Lock()
	delete(ex.QueuedTasks, task.ID)
	ex.LaunchedTasks[task.ID] = task
	ex.mu.Unlock()

	return r.executors.RunTask(ctx, ex.Info.ExecutorID, task)
}

// ExecutorRegistered dispatches every task queued for executorID since
// its launch, then marks it able to receive further tasks directly.
func (r *Registry) ExecutorRegistered(ctx context.Context, frameworkID, executorID string) {
	r.mu.Lock()
	fw, ok := r.frameworks[frameworkID]
	r.mu.Unlock()
	if !ok {
		return
	}
	fw.mu.Lock()
	ex, ok := fw.Executors[executorID]
	fw.mu.Unlock()
	if !ok {
		return
	}

	ex.mu.Lock()
	ex.Registered = true
	queued := make([]agentmodel.Task, 0, len(ex.QueuedTasks))
	for _, t := range ex.QueuedTasks {
		queued = append(queued, t)
	}
	ex.mu.Unlock()

	for _, t := range queued {
		if err := r.dispatchTask(ctx, ex, t); err != nil {
			r.log.Error().Err(err).Str("task_id", t.ID).Msg("failed to dispatch queued task on registration")
		}
	}
}

// KillTask tears down a task. A still-queued task is removed locally
// and reported TASK_KILLED without ever reaching the executor; a
// dispatched task is forwarded to the executor for a graceful kill.
func (r *Registry) KillTask(ctx context.Context, frameworkID, taskID string) error {
	r.mu.Lock()
	fw, ok := r.frameworks[frameworkID]
	r.mu.Unlock()
	if !ok {
		r.recordInvalid()
		return nil
	}

	fw.mu.Lock()
	executorID, ok := fw.taskIndex[taskID]
	fw.mu.Unlock()
	if !ok {
		r.recordInvalid()
		return nil
	}

	fw.mu.Lock()
	ex, ok := fw.Executors[executorID]
	fw.mu.Unlock()
	if !ok {
		r.recordInvalid()
		return nil
	}

	ex.mu.Lock()
	if _, queued := ex.QueuedTasks[taskID]; queued {
		delete(ex.QueuedTasks, taskID)
		ex.mu.Unlock()
		return r.statusUpdater.Update(ctx, agentmodel.NewStatusUpdate(frameworkID, executorID, taskID, agentmodel.TaskKilled, nil))
	}
	ex.mu.Unlock()

	return r.executors.KillTask(ctx, executorID, taskID)
}

// StatusUpdate updates the in-memory task-state view, routes the update
// through the status-update manager, and maintains the valid/invalid
// counters.
func (r *Registry) StatusUpdate(ctx context.Context, update agentmodel.StatusUpdate) error {
	r.mu.Lock()
	fw, ok := r.frameworks[update.FrameworkID]
	r.mu.Unlock()
	if !ok {
		r.recordInvalid()
		r.log.Warn().Str("framework_id", update.FrameworkID).Str("task_id", update.TaskID).
			Msg("status update for unknown framework; dropping")
		return nil
	}

	fw.mu.Lock()
	ex, ok := fw.Executors[update.ExecutorID]
	fw.mu.Unlock()
	if !ok {
		r.recordInvalid()
		r.log.Warn().Str("framework_id", update.FrameworkID).Str("executor_id", update.ExecutorID).
			Str("task_id", update.TaskID).Msg("status update for unknown executor; dropping")
		return nil
	}

	ex.mu.Lock()
	if task, launched := ex.LaunchedTasks[update.TaskID]; launched {
		task.State = update.State
		if update.State.Terminal() {
			delete(ex.LaunchedTasks, update.TaskID)
			ex.pushCompleted(task, r.maxCompletedTask)
		} else {
			ex.LaunchedTasks[update.TaskID] = task
		}
	}
	ex.mu.Unlock()

	if update.State.Terminal() {
		fw.mu.Lock()
		delete(fw.taskIndex, update.TaskID)
		fw.mu.Unlock()
	}

	r.recordValid()
	return r.statusUpdater.Update(ctx, update)
}

func (r *Registry) recordValid()   { atomic.AddInt64(&r.validUpdates, 1) }
func (r *Registry) recordInvalid() { atomic.AddInt64(&r.invalidUpdates, 1) }

// ShutdownFramework tears down every executor owned by frameworkID.
func (r *Registry) ShutdownFramework(ctx context.Context, frameworkID string) {
	r.mu.Lock()
	fw, ok := r.frameworks[frameworkID]
	r.mu.Unlock()
	if !ok {
		return
	}

	fw.mu.Lock()
	fw.ShuttingDown = true
	executorIDs := make([]string, 0, len(fw.Executors))
	for id := range fw.Executors {
		executorIDs = append(executorIDs, id)
	}
	fw.mu.Unlock()

	for _, executorID := range executorIDs {
		r.ShutdownExecutor(ctx, frameworkID, executorID)
	}
}

// ShutdownExecutor begins the two-phase shutdown: a graceful message is
// sent immediately, and the isolator is asked to destroy the executor
// once the grace period elapses without the reaper having already
// finalized it.
func (r *Registry) ShutdownExecutor(ctx context.Context, frameworkID, executorID string) {
	r.mu.Lock()
	fw, ok := r.frameworks[frameworkID]
	r.mu.Unlock()
	if !ok {
		return
	}
	fw.mu.Lock()
	ex, ok := fw.Executors[executorID]
	fw.mu.Unlock()
	if !ok {
		return
	}

	ex.mu.Lock()
	if ex.ShuttingDown {
		ex.mu.Unlock()
		return
	}
	ex.ShuttingDown = true
	ex.mu.Unlock()

	if err := r.executors.Shutdown(ctx, executorID); err != nil {
		r.log.Debug().Err(err).Str("executor_id", executorID).Msg("graceful shutdown message failed to send")
	}

	ex.mu.Lock()
	ex.shutdownTimer = time.AfterFunc(r.shutdownGrace, func() {
		if err := r.isolator.Destroy(context.Background(), executorID); err != nil {
			r.log.Error().Err(err).Str("executor_id", executorID).Msg("forced executor destroy failed")
		}
	})
	ex.mu.Unlock()
}

// ExecutorTerminated finalizes an executor once it is confirmed gone
// (reaper exit notification or isolator-level termination): every
// non-terminal task it owned is synthesized a terminal update, the
// executor record is moved into the framework's completed ring, and the
// checkpointed run is left in place for the next recovery pass to
// reconcile (it is not deleted here; GC's sandbox-age sweep owns that).
func (r *Registry) ExecutorTerminated(ctx context.Context, frameworkID, executorID string, exitCode int, known bool) {
	r.mu.Lock()
	fw, ok := r.frameworks[frameworkID]
	r.mu.Unlock()
	if !ok {
		return
	}
	fw.mu.Lock()
	ex, ok := fw.Executors[executorID]
	if ok {
		delete(fw.Executors, executorID)
		fw.pushCompletedExecutor(ex.Info, r.maxCompletedExec)
	}
	fw.mu.Unlock()
	if !ok {
		return
	}

	if ex.shutdownTimer != nil {
		ex.shutdownTimer.Stop()
	}

	ex.mu.Lock()
	unfinished := make([]agentmodel.Task, 0, len(ex.QueuedTasks)+len(ex.LaunchedTasks))
	for _, t := range ex.QueuedTasks {
		unfinished = append(unfinished, t)
	}
	for _, t := range ex.LaunchedTasks {
		unfinished = append(unfinished, t)
	}
	ex.mu.Unlock()

	state := agentmodel.TaskLost
	if known && exitCode != 0 {
		state = agentmodel.TaskFailed
	}

	for _, t := range unfinished {
		if t.State.Terminal() {
			continue
		}
		reason := fmt.Sprintf("executor %s terminated", executorID)
		if err := r.statusUpdater.Update(ctx, agentmodel.NewStatusUpdate(frameworkID, executorID, t.ID, state, []byte(reason))); err != nil {
			r.log.Error().Err(err).Str("task_id", t.ID).Msg("failed to report executor termination")
		}

		fw.mu.Lock()
		delete(fw.taskIndex, t.ID)
		fw.mu.Unlock()
	}
}
