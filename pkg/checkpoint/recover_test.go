package checkpoint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/warren-agent/pkg/agentmodel"
)

func TestRecoverColdStart(t *testing.T) {
	s := New(t.TempDir(), "agent-1")

	state, err := s.Recover()
	require.NoError(t, err)
	assert.False(t, state.HasAgent)
	assert.Empty(t, state.Frameworks)
}

func TestRecoverRebuildsFullTree(t *testing.T) {
	s := New(t.TempDir(), "agent-1")

	require.NoError(t, s.PutAgentInfo(agentmodel.AgentInfo{ID: "agent-1", Hostname: "node-a"}))
	require.NoError(t, s.PutFrameworkInfo("fw-1", agentmodel.FrameworkInfo{Name: "analytics"}))
	require.NoError(t, s.PutExecutorRun(ExecutorRun{
		FrameworkID:   "fw-1",
		ExecutorID:    "ex-1",
		ContainerUUID: "uuid-1",
		Info:          agentmodel.ExecutorInfo{ExecutorID: "ex-1", FrameworkID: "fw-1", Command: "/bin/true"},
		PID:           111,
	}))
	require.NoError(t, s.PutTaskInfo("fw-1", "ex-1", "uuid-1", agentmodel.Task{
		ID: "task-1", ExecutorID: "ex-1", FrameworkID: "fw-1", State: agentmodel.TaskRunning,
	}))

	u1 := agentmodel.NewStatusUpdate("fw-1", "ex-1", "task-1", agentmodel.TaskStaging, nil)
	u2 := agentmodel.NewStatusUpdate("fw-1", "ex-1", "task-1", agentmodel.TaskRunning, nil)
	require.NoError(t, s.AppendRecord("fw-1", "ex-1", "uuid-1", "task-1", UpdateRecord{Kind: RecordUpdate, Update: u1}))
	require.NoError(t, s.AppendRecord("fw-1", "ex-1", "uuid-1", "task-1", UpdateRecord{Kind: RecordUpdate, Update: u2}))

	state, err := s.Recover()
	require.NoError(t, err)

	require.True(t, state.HasAgent)
	assert.Equal(t, "node-a", state.AgentInfo.Hostname)

	require.Len(t, state.Frameworks, 1)
	fw := state.Frameworks[0]
	assert.Equal(t, "fw-1", fw.FrameworkID)
	assert.Equal(t, "analytics", fw.Info.Name)

	require.Len(t, fw.Runs, 1)
	run := fw.Runs[0]
	assert.Equal(t, "ex-1", run.ExecutorID)
	assert.Equal(t, 111, run.PID)

	require.Len(t, run.Tasks, 1)
	task := run.Tasks[0]
	assert.Equal(t, "task-1", task.Task.ID)
	require.Len(t, task.Records, 2)
	assert.Equal(t, u1.UUID, task.Records[0].Update.UUID)
	assert.Equal(t, u2.UUID, task.Records[1].Update.UUID)
}

func TestRecoverSkipsIncompleteRun(t *testing.T) {
	s := New(t.TempDir(), "agent-1")

	require.NoError(t, s.PutFrameworkInfo("fw-1", agentmodel.FrameworkInfo{Name: "analytics"}))

	// Write only executor.info, never the pid file: simulates a crash
	// between the two writes in PutExecutorRun.
	require.NoError(t, WriteRecord(
		s.Layout().ExecutorInfoPath("fw-1", "ex-1", "uuid-1"),
		[]byte(`{"ExecutorID":"ex-1"}`),
	))

	state, err := s.Recover()
	require.NoError(t, err)
	require.Len(t, state.Frameworks, 1)
	assert.Empty(t, state.Frameworks[0].Runs, "a run missing its pid file must not be recovered")
}
