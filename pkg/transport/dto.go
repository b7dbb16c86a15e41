package transport

import (
	"github.com/google/uuid"
	"google.golang.org/protobuf/types/known/timestamppb"

	"github.com/cuemby/warren-agent/pkg/agentmodel"
)

// StatusUpdateDTO is the wire-shaped representation of a StatusUpdate,
// using timestamppb the way any protobuf-framed message on this
// transport would carry a creation time. The concrete RPC service this
// rides over is left to whatever backend is wired in; this type exists
// so components that do have a protobuf-based transport available can
// marshal a StatusUpdate without reaching back into agentmodel for
// timestamp conversion themselves.
type StatusUpdateDTO struct {
	UUID        string
	FrameworkID string
	ExecutorID  string
	TaskID      string
	State       string
	CreatedAt   *timestamppb.Timestamp
	Data        []byte
}

// ToDTO converts a StatusUpdate to its wire-shaped form.
func ToDTO(update agentmodel.StatusUpdate) StatusUpdateDTO {
	return StatusUpdateDTO{
		UUID:        update.UUID.String(),
		FrameworkID: update.FrameworkID,
		ExecutorID:  update.ExecutorID,
		TaskID:      update.TaskID,
		State:       string(update.State),
		CreatedAt:   timestamppb.New(update.CreatedAt),
		Data:        update.Data,
	}
}

// FromDTO converts a wire-shaped status update back into the core's
// agentmodel representation.
func FromDTO(dto StatusUpdateDTO) (agentmodel.StatusUpdate, error) {
	id, err := uuid.Parse(dto.UUID)
	if err != nil {
		return agentmodel.StatusUpdate{}, err
	}

	return agentmodel.StatusUpdate{
		UUID:        id,
		FrameworkID: dto.FrameworkID,
		ExecutorID:  dto.ExecutorID,
		TaskID:      dto.TaskID,
		State:       agentmodel.TaskState(dto.State),
		CreatedAt:   dto.CreatedAt.AsTime(),
		Data:        dto.Data,
	}, nil
}
