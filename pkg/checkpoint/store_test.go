package checkpoint

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/warren-agent/pkg/agentmodel"
)

func TestWriteRecordIsAtomicAndReadable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sub", "record")

	require.NoError(t, WriteRecord(path, []byte("hello")))

	data, err := ReadRecord(path)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	// no temp files left behind
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "record", entries[0].Name())
}

func TestWriteRecordOverwritesAtomically(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "record")

	require.NoError(t, WriteRecord(path, []byte("v1")))
	require.NoError(t, WriteRecord(path, []byte("v2")))

	data, err := ReadRecord(path)
	require.NoError(t, err)
	assert.Equal(t, "v2", string(data))
}

func TestReadRecordMissingIsNotExist(t *testing.T) {
	dir := t.TempDir()
	_, err := ReadRecord(filepath.Join(dir, "missing"))
	require.Error(t, err)
	assert.True(t, os.IsNotExist(err))
}

func TestAgentInfoRoundTrip(t *testing.T) {
	s := New(t.TempDir(), "agent-1")

	_, err := s.GetAgentInfo()
	require.Error(t, err, "cold start: no slave.info yet")

	info := agentmodel.AgentInfo{
		ID:       "agent-1",
		Hostname: "node-a",
		Resources: agentmodel.Resources{
			CPUCores:    4,
			MemoryBytes: 8 << 30,
		},
		Attributes: map[string]string{"zone": "us-east-1"},
	}
	require.NoError(t, s.PutAgentInfo(info))

	got, err := s.GetAgentInfo()
	require.NoError(t, err)
	assert.Equal(t, info, got)
}

func TestFrameworkInfoRoundTrip(t *testing.T) {
	s := New(t.TempDir(), "agent-1")

	info := agentmodel.FrameworkInfo{Name: "analytics", User: "root"}
	require.NoError(t, s.PutFrameworkInfo("fw-1", info))

	got, err := s.GetFrameworkInfo("fw-1")
	require.NoError(t, err)
	assert.Equal(t, info, got)
}

func TestExecutorRunRoundTrip(t *testing.T) {
	s := New(t.TempDir(), "agent-1")

	run := ExecutorRun{
		FrameworkID:   "fw-1",
		ExecutorID:    "ex-1",
		ContainerUUID: "uuid-1",
		Info: agentmodel.ExecutorInfo{
			ExecutorID:  "ex-1",
			FrameworkID: "fw-1",
			Command:     "/bin/true",
		},
		PID:       4242,
		ForkedPID: 4243,
	}
	require.NoError(t, s.PutExecutorRun(run))

	got, err := s.GetExecutorRun("fw-1", "ex-1", "uuid-1")
	require.NoError(t, err)
	assert.Equal(t, run, got)
}

func TestExecutorRunWithoutForkedPID(t *testing.T) {
	s := New(t.TempDir(), "agent-1")

	run := ExecutorRun{
		FrameworkID:   "fw-1",
		ExecutorID:    "ex-2",
		ContainerUUID: "uuid-2",
		Info:          agentmodel.ExecutorInfo{ExecutorID: "ex-2", FrameworkID: "fw-1"},
		PID:           99,
	}
	require.NoError(t, s.PutExecutorRun(run))

	got, err := s.GetExecutorRun("fw-1", "ex-2", "uuid-2")
	require.NoError(t, err)
	assert.Equal(t, 0, got.ForkedPID)
	assert.Equal(t, 99, got.PID)
}

func TestTaskInfoRoundTrip(t *testing.T) {
	s := New(t.TempDir(), "agent-1")

	task := agentmodel.Task{
		ID:          "task-1",
		ExecutorID:  "ex-1",
		FrameworkID: "fw-1",
		State:       agentmodel.TaskRunning,
	}
	require.NoError(t, s.PutTaskInfo("fw-1", "ex-1", "uuid-1", task))

	got, err := s.GetTaskInfo("fw-1", "ex-1", "uuid-1", "task-1")
	require.NoError(t, err)
	assert.Equal(t, task, got)
}

func TestListDirNamesMissingDirIsEmptyNotError(t *testing.T) {
	names, err := ListDirNames(filepath.Join(t.TempDir(), "does-not-exist"))
	require.NoError(t, err)
	assert.Empty(t, names)
}
