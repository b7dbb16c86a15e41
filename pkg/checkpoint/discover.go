package checkpoint

import (
	"path/filepath"

	"github.com/google/uuid"
)

// DiscoverAgentID resolves the agent-ID a Store should be constructed
// with, before a Store (and therefore a Layout) can exist. meta/slaves/
// is keyed by agent-ID, so a fresh workDir has no way to name its own
// Layout until this has run once.
//
// A workDir that already has exactly one entry under meta/slaves/ is a
// warm start: that ID is reused so recovery finds its own checkpoints.
// An empty meta/slaves/ is a cold start: a new UUID-based ID is minted.
// More than one entry is a corrupt or hand-edited work directory and is
// reported as an error rather than guessed at.
func DiscoverAgentID(workDir string) (agentID string, coldStart bool, err error) {
	root := filepath.Join(workDir, "meta", "slaves")
	names, err := ListDirNames(root)
	if err != nil {
		return "", false, err
	}

	switch len(names) {
	case 0:
		return uuid.New().String(), true, nil
	case 1:
		return names[0], false, nil
	default:
		return "", false, &AmbiguousAgentIDError{WorkDir: workDir, Candidates: names}
	}
}

// AmbiguousAgentIDError is returned by DiscoverAgentID when a work
// directory holds more than one checkpointed agent-ID and recovery has
// no principled way to choose between them.
type AmbiguousAgentIDError struct {
	WorkDir    string
	Candidates []string
}

func (e *AmbiguousAgentIDError) Error() string {
	msg := "checkpoint: work dir " + e.WorkDir + " has multiple checkpointed agent IDs: "
	for i, c := range e.Candidates {
		if i > 0 {
			msg += ", "
		}
		msg += c
	}
	return msg
}
