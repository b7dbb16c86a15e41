package statusmanager

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/warren-agent/pkg/agentmodel"
	"github.com/cuemby/warren-agent/pkg/checkpoint"
)

type fakeForwarder struct {
	mu        sync.Mutex
	sent      []agentmodel.StatusUpdate
	failNext  bool
	sendCount map[string]int // taskID -> number of sends
}

func newFakeForwarder() *fakeForwarder {
	return &fakeForwarder{sendCount: make(map[string]int)}
}

func (f *fakeForwarder) SendStatusUpdate(_ context.Context, update agentmodel.StatusUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, update)
	f.sendCount[update.TaskID]++
	if f.failNext {
		f.failNext = false
		return assert.AnError
	}
	return nil
}

func (f *fakeForwarder) count(taskID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sendCount[taskID]
}

func (f *fakeForwarder) last() agentmodel.StatusUpdate {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent[len(f.sent)-1]
}

func (f *fakeForwarder) all() []agentmodel.StatusUpdate {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]agentmodel.StatusUpdate, len(f.sent))
	copy(out, f.sent)
	return out
}

type fakeNotifier struct {
	mu   sync.Mutex
	acks []agentmodel.Ack
}

func (n *fakeNotifier) NotifyExecutorAck(_ string, ack agentmodel.Ack) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.acks = append(n.acks, ack)
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.acks)
}

func newTestManager(t *testing.T) (*Manager, *fakeForwarder, *fakeNotifier) {
	t.Helper()
	store := checkpoint.New(t.TempDir(), "agent-1")
	forwarder := newFakeForwarder()
	notifier := &fakeNotifier{}
	m := New(zerolog.Nop(), store, forwarder, notifier, 0)
	t.Cleanup(m.Close)
	return m, forwarder, notifier
}

func TestUpdateForwardAckHappyPath(t *testing.T) {
	m, fwd, notifier := newTestManager(t)
	ctx := context.Background()

	u := agentmodel.NewStatusUpdate("fw-1", "ex-1", "task-1", agentmodel.TaskRunning, nil)
	require.NoError(t, m.Update(ctx, u))

	require.Eventually(t, func() bool { return fwd.count("task-1") == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, u.UUID, fwd.last().UUID)

	require.NoError(t, m.Ack(ctx, agentmodel.Ack{UUID: u.UUID, TaskID: "task-1", FrameworkID: "fw-1"}))
	assert.Equal(t, 1, notifier.count())
}

func TestDuplicateUpdateUUIDIsDropped(t *testing.T) {
	m, fwd, _ := newTestManager(t)
	ctx := context.Background()

	u := agentmodel.NewStatusUpdate("fw-1", "ex-1", "task-1", agentmodel.TaskRunning, nil)
	require.NoError(t, m.Update(ctx, u))
	require.Eventually(t, func() bool { return fwd.count("task-1") == 1 }, time.Second, time.Millisecond)

	// Re-submitting the same update (same UUID) must not queue or forward again.
	require.NoError(t, m.Update(ctx, u))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, fwd.count("task-1"))
}

func TestQueuedUpdateDeferredUntilPredecessorAcked(t *testing.T) {
	m, fwd, _ := newTestManager(t)
	ctx := context.Background()

	u1 := agentmodel.NewStatusUpdate("fw-1", "ex-1", "task-1", agentmodel.TaskStaging, nil)
	u2 := agentmodel.NewStatusUpdate("fw-1", "ex-1", "task-1", agentmodel.TaskRunning, nil)

	require.NoError(t, m.Update(ctx, u1))
	require.Eventually(t, func() bool { return fwd.count("task-1") == 1 }, time.Second, time.Millisecond)

	require.NoError(t, m.Update(ctx, u2))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, fwd.count("task-1"), "second update must wait behind the unacked first")

	require.NoError(t, m.Ack(ctx, agentmodel.Ack{UUID: u1.UUID, TaskID: "task-1", FrameworkID: "fw-1"}))

	require.Eventually(t, func() bool { return fwd.count("task-1") == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, u2.UUID, fwd.last().UUID)
}

func TestNonTerminalAckWithNoQueuedNextReturnsStreamToEmpty(t *testing.T) {
	// Regression test: a non-terminal ack with nothing queued behind it
	// must not leave the stream wedged — a later update for the same
	// task must still be admitted and forwarded.
	m, fwd, _ := newTestManager(t)
	ctx := context.Background()

	u1 := agentmodel.NewStatusUpdate("fw-1", "ex-1", "task-1", agentmodel.TaskStaging, nil)
	require.NoError(t, m.Update(ctx, u1))
	require.Eventually(t, func() bool { return fwd.count("task-1") == 1 }, time.Second, time.Millisecond)

	require.NoError(t, m.Ack(ctx, agentmodel.Ack{UUID: u1.UUID, TaskID: "task-1", FrameworkID: "fw-1"}))

	u2 := agentmodel.NewStatusUpdate("fw-1", "ex-1", "task-1", agentmodel.TaskRunning, nil)
	require.NoError(t, m.Update(ctx, u2))

	require.Eventually(t, func() bool { return fwd.count("task-1") == 2 }, time.Second, time.Millisecond,
		"a fresh update after a non-terminal ack with no queued successor must still be forwarded")
	assert.Equal(t, u2.UUID, fwd.last().UUID)
}

func TestResendOfJustAckedUUIDAfterNonTerminalAckIsDroppedAsDuplicate(t *testing.T) {
	// Regression test: an executor that resends its previous update
	// (e.g. it never saw the ack before a disconnect, and retries on
	// reconnect) after a non-terminal ack has already returned the
	// stream to empty must still be recognized as a duplicate, not
	// re-admitted and re-forwarded as if new.
	m, fwd, _ := newTestManager(t)
	ctx := context.Background()

	u1 := agentmodel.NewStatusUpdate("fw-1", "ex-1", "task-1", agentmodel.TaskStaging, nil)
	require.NoError(t, m.Update(ctx, u1))
	require.Eventually(t, func() bool { return fwd.count("task-1") == 1 }, time.Second, time.Millisecond)

	require.NoError(t, m.Ack(ctx, agentmodel.Ack{UUID: u1.UUID, TaskID: "task-1", FrameworkID: "fw-1"}))

	require.NoError(t, m.Update(ctx, u1))

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, fwd.count("task-1"), "resending the just-acked UUID must be dropped, not re-forwarded")
}

func TestTerminalUpdateClosesStreamAndDropsFurtherUpdates(t *testing.T) {
	m, fwd, _ := newTestManager(t)
	ctx := context.Background()

	u1 := agentmodel.NewStatusUpdate("fw-1", "ex-1", "task-1", agentmodel.TaskFinished, nil)
	require.NoError(t, m.Update(ctx, u1))
	require.Eventually(t, func() bool { return fwd.count("task-1") == 1 }, time.Second, time.Millisecond)

	require.NoError(t, m.Ack(ctx, agentmodel.Ack{UUID: u1.UUID, TaskID: "task-1", FrameworkID: "fw-1"}))

	u2 := agentmodel.NewStatusUpdate("fw-1", "ex-1", "task-1", agentmodel.TaskRunning, nil)
	require.NoError(t, m.Update(ctx, u2))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, fwd.count("task-1"), "closed stream must drop further updates")
}

func TestExecutorGoneSynthesizesLostForNonTerminalTasks(t *testing.T) {
	m, fwd, _ := newTestManager(t)
	ctx := context.Background()

	u1 := agentmodel.NewStatusUpdate("fw-1", "ex-1", "task-1", agentmodel.TaskRunning, nil)
	require.NoError(t, m.Update(ctx, u1))
	require.Eventually(t, func() bool { return fwd.count("task-1") == 1 }, time.Second, time.Millisecond)
	require.NoError(t, m.Ack(ctx, agentmodel.Ack{UUID: u1.UUID, TaskID: "task-1", FrameworkID: "fw-1"}))

	m.ExecutorGone(ctx, "fw-1", "ex-1", -1)

	require.Eventually(t, func() bool { return fwd.count("task-1") == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, agentmodel.TaskLost, fwd.last().State)
}

func TestExecutorGoneSynthesizesFailedWithKnownExitCode(t *testing.T) {
	m, fwd, _ := newTestManager(t)
	ctx := context.Background()

	u1 := agentmodel.NewStatusUpdate("fw-1", "ex-1", "task-1", agentmodel.TaskRunning, nil)
	require.NoError(t, m.Update(ctx, u1))
	require.Eventually(t, func() bool { return fwd.count("task-1") == 1 }, time.Second, time.Millisecond)
	require.NoError(t, m.Ack(ctx, agentmodel.Ack{UUID: u1.UUID, TaskID: "task-1", FrameworkID: "fw-1"}))

	m.ExecutorGone(ctx, "fw-1", "ex-1", 1)

	require.Eventually(t, func() bool { return fwd.count("task-1") == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, agentmodel.TaskFailed, fwd.last().State)
}

func TestExecutorGoneSkipsAlreadyTerminalStream(t *testing.T) {
	m, fwd, _ := newTestManager(t)
	ctx := context.Background()

	u1 := agentmodel.NewStatusUpdate("fw-1", "ex-1", "task-1", agentmodel.TaskFinished, nil)
	require.NoError(t, m.Update(ctx, u1))
	require.Eventually(t, func() bool { return fwd.count("task-1") == 1 }, time.Second, time.Millisecond)
	require.NoError(t, m.Ack(ctx, agentmodel.Ack{UUID: u1.UUID, TaskID: "task-1", FrameworkID: "fw-1"}))

	m.ExecutorGone(ctx, "fw-1", "ex-1", -1)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, fwd.count("task-1"), "a stream already closed by a terminal ack must not be re-synthesized")
}

func TestRetryTimerRefiresWithoutAck(t *testing.T) {
	m, fwd, _ := newTestManager(t)
	ctx := context.Background()

	u := agentmodel.NewStatusUpdate("fw-1", "ex-1", "task-1", agentmodel.TaskRunning, nil)
	require.NoError(t, m.Update(ctx, u))
	require.Eventually(t, func() bool { return fwd.count("task-1") == 1 }, time.Second, time.Millisecond)

	s := m.getOrCreateStream("fw-1", "ex-1", "", "task-1")
	s.mu.Lock()
	s.retryDelay = 5 * time.Millisecond
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(5*time.Millisecond, func() { m.onRetryTimer(s) })
	s.mu.Unlock()

	require.Eventually(t, func() bool { return fwd.count("task-1") >= 2 }, time.Second, time.Millisecond,
		"retransmit timer must resend the forwarded update when no ack arrives")
}

func TestAckForUnknownTaskIsIgnored(t *testing.T) {
	m, _, notifier := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.Ack(ctx, agentmodel.Ack{TaskID: "no-such-task"}))
	assert.Equal(t, 0, notifier.count())
}

func TestAckWithStaleUUIDIsIgnored(t *testing.T) {
	m, fwd, notifier := newTestManager(t)
	ctx := context.Background()

	u := agentmodel.NewStatusUpdate("fw-1", "ex-1", "task-1", agentmodel.TaskRunning, nil)
	require.NoError(t, m.Update(ctx, u))
	require.Eventually(t, func() bool { return fwd.count("task-1") == 1 }, time.Second, time.Millisecond)

	stale := agentmodel.NewStatusUpdate("fw-1", "ex-1", "task-1", agentmodel.TaskStaging, nil)
	require.NoError(t, m.Ack(ctx, agentmodel.Ack{UUID: stale.UUID, TaskID: "task-1", FrameworkID: "fw-1"}))
	assert.Equal(t, 0, notifier.count())
}

func TestRecoverReconstructsForwardedStreamAndRearmsRetry(t *testing.T) {
	store := checkpoint.New(t.TempDir(), "agent-1")
	require.NoError(t, store.PutTaskInfo("fw-1", "ex-1", "uuid-1", agentmodel.Task{
		ID: "task-1", ExecutorID: "ex-1", FrameworkID: "fw-1", State: agentmodel.TaskRunning,
	}))
	u := agentmodel.NewStatusUpdate("fw-1", "ex-1", "task-1", agentmodel.TaskRunning, nil)
	require.NoError(t, store.AppendRecord("fw-1", "ex-1", "uuid-1", "task-1",
		checkpoint.UpdateRecord{Kind: checkpoint.RecordUpdate, Update: u}))

	fwd := newFakeForwarder()
	m := New(zerolog.Nop(), store, fwd, &fakeNotifier{}, 0)
	defer m.Close()

	state, err := store.Recover()
	require.NoError(t, err)
	m.Recover(context.Background(), state)

	require.Eventually(t, func() bool { return fwd.count("task-1") >= 1 }, time.Second, time.Millisecond,
		"recovery must re-forward a dangling forwarded update")
	assert.Equal(t, u.UUID, fwd.last().UUID)
}

func TestRecoverClosesStreamAlreadyTerminalAcked(t *testing.T) {
	store := checkpoint.New(t.TempDir(), "agent-1")
	require.NoError(t, store.PutTaskInfo("fw-1", "ex-1", "uuid-1", agentmodel.Task{
		ID: "task-1", ExecutorID: "ex-1", FrameworkID: "fw-1", State: agentmodel.TaskFinished,
	}))
	u := agentmodel.NewStatusUpdate("fw-1", "ex-1", "task-1", agentmodel.TaskFinished, nil)
	require.NoError(t, store.AppendRecord("fw-1", "ex-1", "uuid-1", "task-1",
		checkpoint.UpdateRecord{Kind: checkpoint.RecordUpdate, Update: u}))
	require.NoError(t, store.AppendRecord("fw-1", "ex-1", "uuid-1", "task-1",
		checkpoint.UpdateRecord{Kind: checkpoint.RecordAck, Update: u}))

	fwd := newFakeForwarder()
	m := New(zerolog.Nop(), store, fwd, &fakeNotifier{}, 0)
	defer m.Close()

	state, err := store.Recover()
	require.NoError(t, err)
	m.Recover(context.Background(), state)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, fwd.count("task-1"), "a terminal-acked stream must not be re-forwarded on recovery")

	// And the stream must reject a stale replay of the same update.
	require.NoError(t, m.Update(context.Background(), u))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, fwd.count("task-1"))
}

func TestRecoverResetsNonTerminalAckedStreamToEmpty(t *testing.T) {
	store := checkpoint.New(t.TempDir(), "agent-1")
	require.NoError(t, store.PutTaskInfo("fw-1", "ex-1", "uuid-1", agentmodel.Task{
		ID: "task-1", ExecutorID: "ex-1", FrameworkID: "fw-1", State: agentmodel.TaskStaging,
	}))
	u1 := agentmodel.NewStatusUpdate("fw-1", "ex-1", "task-1", agentmodel.TaskStaging, nil)
	require.NoError(t, store.AppendRecord("fw-1", "ex-1", "uuid-1", "task-1",
		checkpoint.UpdateRecord{Kind: checkpoint.RecordUpdate, Update: u1}))
	require.NoError(t, store.AppendRecord("fw-1", "ex-1", "uuid-1", "task-1",
		checkpoint.UpdateRecord{Kind: checkpoint.RecordAck, Update: u1}))

	fwd := newFakeForwarder()
	m := New(zerolog.Nop(), store, fwd, &fakeNotifier{}, 0)
	defer m.Close()

	state, err := store.Recover()
	require.NoError(t, err)
	m.Recover(context.Background(), state)

	u2 := agentmodel.NewStatusUpdate("fw-1", "ex-1", "task-1", agentmodel.TaskRunning, nil)
	require.NoError(t, m.Update(context.Background(), u2))

	require.Eventually(t, func() bool { return fwd.count("task-1") == 1 }, time.Second, time.Millisecond,
		"a recovered stream left idle by a non-terminal ack must accept a fresh update")
	assert.Equal(t, u2.UUID, fwd.last().UUID)
}

func TestSoftCapWarningDoesNotDropUpdates(t *testing.T) {
	store := checkpoint.New(t.TempDir(), "agent-1")
	fwd := newFakeForwarder()
	m := New(zerolog.Nop(), store, fwd, &fakeNotifier{}, 1)
	defer m.Close()
	ctx := context.Background()

	u1 := agentmodel.NewStatusUpdate("fw-1", "ex-1", "task-1", agentmodel.TaskStaging, nil)
	require.NoError(t, m.Update(ctx, u1))
	require.Eventually(t, func() bool { return fwd.count("task-1") == 1 }, time.Second, time.Millisecond)

	u2 := agentmodel.NewStatusUpdate("fw-1", "ex-1", "task-1", agentmodel.TaskRunning, nil)
	u3 := agentmodel.NewStatusUpdate("fw-1", "ex-1", "task-1", agentmodel.TaskFinished, nil)
	require.NoError(t, m.Update(ctx, u2))
	require.NoError(t, m.Update(ctx, u3))

	require.NoError(t, m.Ack(ctx, agentmodel.Ack{UUID: u1.UUID, TaskID: "task-1", FrameworkID: "fw-1"}))
	require.Eventually(t, func() bool { return fwd.count("task-1") == 2 }, time.Second, time.Millisecond)
	require.NoError(t, m.Ack(ctx, agentmodel.Ack{UUID: u2.UUID, TaskID: "task-1", FrameworkID: "fw-1"}))
	require.Eventually(t, func() bool { return fwd.count("task-1") == 3 }, time.Second, time.Millisecond)

	all := fwd.all()
	require.Len(t, all, 3)
	assert.Equal(t, u3.UUID, all[2].UUID)
}
