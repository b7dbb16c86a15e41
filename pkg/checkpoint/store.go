// Package checkpoint persists agent, framework, executor, and task state
// to a well-defined directory tree so a restarted agent can recover
// in-flight work instead of treating a crash as tantamount to failure
// of every task it was running.
//
// Every record write is atomic (temp file + fsync + rename) and every
// write is synchronous from the caller's point of view: the call does
// not return until the write is durable on disk.
package checkpoint

import (
	"fmt"
	"os"
	"path/filepath"
)

// Store performs checkpoint writes and reads under a Layout.
type Store struct {
	layout Layout
}

// New returns a Store rooted at workDir for the given agent ID.
func New(workDir, agentID string) *Store {
	return &Store{layout: Layout{WorkDir: workDir, AgentID: agentID}}
}

// Layout exposes the directory-path resolver, e.g. for recovery's
// directory walks.
func (s *Store) Layout() Layout { return s.layout }

// WriteRecord atomically persists data to path: write to a temp file in
// the same directory, fsync it, close it, then rename over the
// destination. The temp file is removed on every failure path. The
// parent directory is created if it does not exist.
func WriteRecord(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("checkpoint: mkdir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".ckpt-*.tmp")
	if err != nil {
		return fmt.Errorf("checkpoint: create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("checkpoint: write %s: %w", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("checkpoint: fsync %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("checkpoint: close %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("checkpoint: rename %s -> %s: %w", tmpName, path, err)
	}

	// Durability of the rename itself requires an fsync of the
	// containing directory; without it a crash can leave the old
	// name visible again on some filesystems after a power loss.
	if dirFile, err := os.Open(dir); err == nil {
		_ = dirFile.Sync()
		dirFile.Close()
	}

	return nil
}

// ReadRecord reads back a record written by WriteRecord. A missing file
// is reported via os.IsNotExist on the returned error so callers can
// distinguish "nothing was ever checkpointed" from a real I/O failure.
func ReadRecord(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return data, nil
}

// RemoveTree deletes everything checkpointed under dir, used when
// garbage-collecting a completed executor's sandbox metadata.
func RemoveTree(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("checkpoint: remove %s: %w", dir, err)
	}
	return nil
}
