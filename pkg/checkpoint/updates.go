package checkpoint

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"

	"github.com/cuemby/warren-agent/pkg/agentmodel"
)

// RecordKind distinguishes an admitted update from the ack that later
// closes it out, so a replay of the log can reconstruct stream state
// unambiguously instead of guessing from UUID repetition.
type RecordKind string

const (
	RecordUpdate RecordKind = "UPDATE"
	RecordAck    RecordKind = "ACK"
)

// UpdateRecord is one entry in a task's updates log.
type UpdateRecord struct {
	Kind   RecordKind
	Update agentmodel.StatusUpdate
}

// Each appended record is framed as:
//
//	uint32 length (payload length, big-endian)
//	payload (length bytes, JSON-encoded UpdateRecord)
//	uint32 crc32 checksum of payload (big-endian, IEEE polynomial)
//
// A truncated trailing frame (one that runs off the end of the file
// before length+checksum bytes are available, or whose checksum does
// not verify) is treated as if it were never written: the log reader
// stops there and returns everything read so far. This is what makes
// an append that crashes mid-write safe to replay.
const (
	frameLengthSize   = 4
	frameChecksumSize = 4
)

// AppendRecord durably appends one record to the task's updates log.
// The call does not return until the append is fsynced, so the
// in-memory state change it represents (admission or ack) is never
// treated as durable ahead of the disk record backing it.
func (s *Store) AppendRecord(frameworkID, executorID, containerUUID, taskID string, record UpdateRecord) error {
	path := s.layout.UpdatesLogPath(frameworkID, executorID, containerUUID, taskID)

	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("checkpoint: marshal update record: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("checkpoint: mkdir for updates log: %w", err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("checkpoint: open updates log: %w", err)
	}
	defer f.Close()

	frame := make([]byte, frameLengthSize+len(payload)+frameChecksumSize)
	binary.BigEndian.PutUint32(frame[:frameLengthSize], uint32(len(payload)))
	copy(frame[frameLengthSize:], payload)
	checksum := crc32.ChecksumIEEE(payload)
	binary.BigEndian.PutUint32(frame[frameLengthSize+len(payload):], checksum)

	if _, err := f.Write(frame); err != nil {
		return fmt.Errorf("checkpoint: append update record: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("checkpoint: fsync updates log: %w", err)
	}

	return nil
}

// ReadUpdates replays a task's updates log in append order. A truncated
// or corrupt tail frame ends the replay early without error: everything
// before it is still returned, since those frames are known durable.
func (s *Store) ReadUpdates(frameworkID, executorID, containerUUID, taskID string) ([]UpdateRecord, error) {
	path := s.layout.UpdatesLogPath(frameworkID, executorID, containerUUID, taskID)

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("checkpoint: open updates log: %w", err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	var records []UpdateRecord

	for {
		lengthBuf := make([]byte, frameLengthSize)
		if _, err := io.ReadFull(r, lengthBuf); err != nil {
			break // EOF or short read: absent tail frame
		}
		length := binary.BigEndian.Uint32(lengthBuf)

		payload := make([]byte, length)
		if _, err := io.ReadFull(r, payload); err != nil {
			break // truncated payload
		}

		checksumBuf := make([]byte, frameChecksumSize)
		if _, err := io.ReadFull(r, checksumBuf); err != nil {
			break // truncated checksum
		}
		wantChecksum := binary.BigEndian.Uint32(checksumBuf)
		if crc32.ChecksumIEEE(payload) != wantChecksum {
			break // corrupt/partial frame, treated as absent
		}

		var record UpdateRecord
		if err := json.Unmarshal(payload, &record); err != nil {
			break // defensive: should never happen given a verified checksum
		}
		records = append(records, record)
	}

	return records, nil
}
