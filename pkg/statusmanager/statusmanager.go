// Package statusmanager implements the per-task status-update stream
// state machine that guarantees at-least-once, in-order delivery of
// task-state transitions to the master, coupled to durable
// checkpointing and explicit end-to-end acknowledgement.
package statusmanager

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cuemby/warren-agent/pkg/agentmodel"
	"github.com/cuemby/warren-agent/pkg/checkpoint"
	"github.com/cuemby/warren-agent/pkg/metrics"
)

// streamState is a task-stream's position in the
// empty -> pending(U) -> forwarded(U) -> acked(U) state machine.
type streamState int

const (
	streamEmpty streamState = iota
	streamPending
	streamForwarded
	streamAcked
)

// Backoff bounds for the retransmit timer: exponential with a cap,
// never giving up until acked.
const (
	initialRetryDelay = 500 * time.Millisecond
	maxRetryDelay     = 30 * time.Second
)

// Forwarder sends one status update to the master. SendStatusUpdate
// returning an error does not stop retransmission: the manager's own
// timer will fire again. This is satisfied by pkg/transport's
// MasterTransport in the wired agent, and stubbed out in tests.
type Forwarder interface {
	SendStatusUpdate(ctx context.Context, update agentmodel.StatusUpdate) error
}

// ExecutorNotifier delivers an ack back to the executor that originated
// an update, once the master has acknowledged it. Implementations must
// tolerate the executor no longer being reachable: the ack to the
// master has already closed out the manager's own bookkeeping for that
// update regardless.
type ExecutorNotifier interface {
	NotifyExecutorAck(executorID string, ack agentmodel.Ack)
}

// stream is the per-task mailbox: exactly one in-flight update plus a
// FIFO queue of updates that arrived while it was unacked.
type stream struct {
	mu sync.Mutex

	frameworkID   string
	executorID    string
	containerUUID string
	taskID        string

	state   streamState
	current agentmodel.StatusUpdate
	queue   []agentmodel.StatusUpdate
	closed  bool // a terminal update has been acked; the stream accepts nothing more

	// lastAckedUUID is the UUID of the most recently acked update, kept
	// around after the stream returns to streamEmpty so a resend of it
	// (an executor that missed the ack notification and retries on
	// reconnect) is still recognized as a duplicate and dropped.
	lastAckedUUID uuid.UUID

	retryDelay time.Duration
	timer      *time.Timer
}

// Manager owns every task's status-update stream. Per-stream state is
// serialized by the stream's own mutex; the map of streams is
// serialized by Manager's mutex. No handler blocks on I/O other than
// the checkpoint store's synchronous-from-the-caller append, which is
// scoped to the one stream making the call.
type Manager struct {
	log   zerolog.Logger
	store *checkpoint.Store

	forwarder Forwarder
	notifier  ExecutorNotifier

	softCapPerFramework int

	mu      sync.Mutex
	streams map[string]*stream // taskID -> stream

	closed  bool
	closeCh chan struct{}
}

// New creates a Manager. softCapPerFramework is the configurable
// backpressure warning threshold (0 disables the warning; updates are
// never dropped for exceeding it — there is no hard cap).
func New(log zerolog.Logger, store *checkpoint.Store, forwarder Forwarder, notifier ExecutorNotifier, softCapPerFramework int) *Manager {
	return &Manager{
		log:                 log.With().Str("component", "statusmanager").Logger(),
		store:               store,
		forwarder:           forwarder,
		notifier:            notifier,
		softCapPerFramework: softCapPerFramework,
		streams:             make(map[string]*stream),
		closeCh:             make(chan struct{}),
	}
}

// Close cancels every pending retransmit timer. Called on agent
// shutdown; it does not flush or wait, since terminating the process
// is the caller's decision to make.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	close(m.closeCh)
	for _, s := range m.streams {
		s.mu.Lock()
		if s.timer != nil {
			s.timer.Stop()
		}
		s.mu.Unlock()
	}
}

func (m *Manager) getOrCreateStream(frameworkID, executorID, containerUUID, taskID string) *stream {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.streams[taskID]
	if !ok {
		s = &stream{
			frameworkID:   frameworkID,
			executorID:    executorID,
			containerUUID: containerUUID,
			taskID:        taskID,
			state:         streamEmpty,
			retryDelay:    initialRetryDelay,
		}
		m.streams[taskID] = s
	}
	return s
}

// Stats reports the number of streams currently sitting in each
// non-empty state, for observability.
func (m *Manager) Stats() (pending, forwarded, acked int) {
	m.mu.Lock()
	streams := make([]*stream, 0, len(m.streams))
	for _, s := range m.streams {
		streams = append(streams, s)
	}
	m.mu.Unlock()

	for _, s := range streams {
		s.mu.Lock()
		switch s.state {
		case streamPending:
			pending++
		case streamForwarded:
			forwarded++
		case streamAcked:
			acked++
		}
		s.mu.Unlock()
	}
	return pending, forwarded, acked
}

func (m *Manager) frameworkDepth(frameworkID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	depth := 0
	for _, s := range m.streams {
		if s.frameworkID != frameworkID {
			continue
		}
		s.mu.Lock()
		depth += len(s.queue)
		s.mu.Unlock()
	}
	return depth
}

// Update handles a newly produced status update, advancing the
// per-task stream's state machine. Duplicates (same UUID as the
// in-flight or already
// queued update) are dropped idempotently; updates for an
// already-closed (terminal-acked) stream are logged and dropped;
// otherwise the update is queued behind any unacked predecessor, or
// checkpointed and forwarded immediately if the stream is idle.
func (m *Manager) Update(ctx context.Context, update agentmodel.StatusUpdate) error {
	s := m.getOrCreateStream(update.FrameworkID, update.ExecutorID, "", update.TaskID)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		m.log.Warn().Str("task_id", update.TaskID).Str("uuid", update.UUID.String()).
			Msg("dropping status update for closed stream")
		return nil
	}

	if s.state != streamEmpty && s.current.UUID == update.UUID {
		s.mu.Unlock()
		return nil // duplicate of the in-flight update
	}
	if update.UUID == s.lastAckedUUID {
		s.mu.Unlock()
		return nil // duplicate of the most recently acked update
	}
	for _, queued := range s.queue {
		if queued.UUID == update.UUID {
			s.mu.Unlock()
			return nil // duplicate of a queued update
		}
	}

	if s.state != streamEmpty {
		s.queue = append(s.queue, update)
		s.mu.Unlock()

		if m.softCapPerFramework > 0 {
			if depth := m.frameworkDepth(update.FrameworkID); depth > m.softCapPerFramework {
				m.log.Warn().Str("framework_id", update.FrameworkID).Int("depth", depth).
					Msg("status-update backlog exceeds soft cap")
			}
		}
		return nil
	}

	s.mu.Unlock()
	return m.admit(ctx, s, update)
}

// admit checkpoints the update and transitions the stream from empty
// into pending, then immediately attempts the first forward.
func (m *Manager) admit(ctx context.Context, s *stream, update agentmodel.StatusUpdate) error {
	if err := m.store.AppendRecord(update.FrameworkID, update.ExecutorID, s.containerUUID, update.TaskID,
		checkpoint.UpdateRecord{Kind: checkpoint.RecordUpdate, Update: update}); err != nil {
		return err
	}

	s.mu.Lock()
	s.state = streamPending
	s.current = update
	s.retryDelay = initialRetryDelay
	s.mu.Unlock()

	m.forward(ctx, s)
	return nil
}

// forward sends the stream's current update and arms the retransmit
// timer: pending(U) -> forwarded(U).
func (m *Manager) forward(ctx context.Context, s *stream) {
	s.mu.Lock()
	update := s.current
	s.state = streamForwarded
	s.mu.Unlock()

	if err := m.forwarder.SendStatusUpdate(ctx, update); err != nil {
		m.log.Debug().Err(err).Str("task_id", update.TaskID).Msg("status update send failed, will retry")
	}

	m.armRetry(s)
}

func (m *Manager) armRetry(s *stream) {
	s.mu.Lock()
	delay := s.retryDelay
	s.retryDelay = nextDelay(s.retryDelay)
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(delay, func() { m.onRetryTimer(s) })
	s.mu.Unlock()
}

func nextDelay(d time.Duration) time.Duration {
	next := d * 2
	if next > maxRetryDelay {
		return maxRetryDelay
	}
	return next
}

// onRetryTimer is the "timer expiry in forwarded(U): resend U" rule.
func (m *Manager) onRetryTimer(s *stream) {
	select {
	case <-m.closeCh:
		return
	default:
	}

	s.mu.Lock()
	if s.state != streamForwarded {
		s.mu.Unlock()
		return // acked (or closed) between timer fire and lock acquisition
	}
	s.mu.Unlock()

	metrics.StatusUpdateRetriesTotal.Inc()
	m.forward(context.Background(), s)
}

// Ack handles a master acknowledgement: forwarded(U) + ack(uuid=U) ->
// acked(U). Acks for an unknown task, or for a UUID that does not match
// the current in-flight update (already superseded, or a stale
// duplicate ack), are dropped silently.
func (m *Manager) Ack(ctx context.Context, ack agentmodel.Ack) error {
	m.mu.Lock()
	s, ok := m.streams[ack.TaskID]
	m.mu.Unlock()
	if !ok {
		m.log.Warn().Str("task_id", ack.TaskID).Msg("ack for unknown task stream")
		return nil
	}

	s.mu.Lock()
	if s.state != streamForwarded || s.current.UUID != ack.UUID {
		s.mu.Unlock()
		return nil
	}
	acked := s.current
	if s.timer != nil {
		s.timer.Stop()
	}
	terminal := acked.State.Terminal()
	s.state = streamAcked
	s.closed = terminal
	s.lastAckedUUID = acked.UUID
	var next agentmodel.StatusUpdate
	hasNext := len(s.queue) > 0
	if hasNext {
		next = s.queue[0]
		s.queue = s.queue[1:]
	}
	s.mu.Unlock()

	if err := m.store.AppendRecord(acked.FrameworkID, acked.ExecutorID, s.containerUUID, acked.TaskID,
		checkpoint.UpdateRecord{Kind: checkpoint.RecordAck, Update: acked}); err != nil {
		m.log.Error().Err(err).Str("task_id", acked.TaskID).Msg("failed to checkpoint ack")
	}

	if m.notifier != nil {
		m.notifier.NotifyExecutorAck(acked.ExecutorID, ack)
	}

	if terminal {
		return nil
	}

	// Pre-terminal ack: the stream returns to idle and, if something
	// queued up behind it, that update is admitted immediately.
	s.mu.Lock()
	s.state = streamEmpty
	s.mu.Unlock()
	if !hasNext {
		return nil
	}
	return m.admit(ctx, s, next)
}

// ExecutorGone synthesizes a terminal update for every task of the
// given executor whose stream has not yet reached a terminal state.
// knownExitCode is negative when the reaper could not determine the
// exit status (a non-child PID that merely vanished); TASK_LOST is
// synthesized in that case, TASK_FAILED when a non-zero exit status is
// known.
func (m *Manager) ExecutorGone(ctx context.Context, frameworkID, executorID string, knownExitCode int) {
	m.mu.Lock()
	var affected []*stream
	for _, s := range m.streams {
		if s.executorID == executorID {
			affected = append(affected, s)
		}
	}
	m.mu.Unlock()

	state := agentmodel.TaskLost
	if knownExitCode > 0 {
		state = agentmodel.TaskFailed
	}

	for _, s := range affected {
		s.mu.Lock()
		alreadyTerminal := s.closed || (s.state != streamEmpty && s.current.State.Terminal())
		taskID := s.taskID
		s.mu.Unlock()
		if alreadyTerminal {
			continue
		}

		synthesized := agentmodel.NewStatusUpdate(frameworkID, executorID, taskID, state, nil)
		if err := m.Update(ctx, synthesized); err != nil {
			m.log.Error().Err(err).Str("task_id", taskID).Msg("failed to synthesize terminal update")
		}
	}
}

// Recover replays the on-disk updates logs (via the checkpoint store's
// own RecoveredState) and reconstructs each task-stream's state,
// re-arming retry timers for anything still pending acknowledgement.
// Called once during the agent's startup recovery protocol, before any
// new Update/Ack calls are accepted.
func (m *Manager) Recover(ctx context.Context, state checkpoint.RecoveredState) {
	for _, fw := range state.Frameworks {
		for _, run := range fw.Runs {
			for _, rt := range run.Tasks {
				m.recoverTask(ctx, fw.FrameworkID, run.ExecutorID, run.ContainerUUID, rt)
			}
		}
	}
}

// recoverTask replays one task's record log in order, simulating
// exactly the live state machine (UPDATE admits, ACK closes it out),
// so the reconstructed state matches whatever the last live run would
// have had. A dangling forwarded update has its retransmit timer
// re-armed; a stream left idle after a pre-terminal ack, or one that
// never saw a single record, starts fresh.
func (m *Manager) recoverTask(ctx context.Context, frameworkID, executorID, containerUUID string, rt checkpoint.RecoveredTask) {
	if len(rt.Records) == 0 {
		return
	}

	s := m.getOrCreateStream(frameworkID, executorID, containerUUID, rt.Task.ID)

	for _, rec := range rt.Records {
		switch rec.Kind {
		case checkpoint.RecordUpdate:
			s.current = rec.Update
			s.state = streamForwarded
		case checkpoint.RecordAck:
			if s.state == streamForwarded && s.current.UUID == rec.Update.UUID {
				s.state = streamAcked
				s.lastAckedUUID = rec.Update.UUID
				if rec.Update.State.Terminal() {
					s.closed = true
				}
			}
		}
	}

	switch {
	case s.closed:
		return
	case s.state == streamAcked:
		s.state = streamEmpty
	case s.state == streamForwarded:
		s.retryDelay = initialRetryDelay
		m.forward(ctx, s)
	}
}
