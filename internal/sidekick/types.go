// Package sidekick runs bounded fan-out of short-lived sub-tasks on
// behalf of a parent bot.
package sidekick

import (
	"github.com/google/uuid"
)

// ResultStatus is the terminal state of one sub-task.
type ResultStatus string

const (
	StatusSuccess   ResultStatus = "success"
	StatusPartial   ResultStatus = "partial"
	StatusFailed    ResultStatus = "failed"
	StatusTimeout   ResultStatus = "timeout"
	StatusCancelled ResultStatus = "cancelled"
)

// TaskEnvelope describes one sub-task handed to a runner.
type TaskEnvelope struct {
	TaskID       string            `json:"task_id"`
	ParentBotID  string            `json:"parent_bot_id"`
	RoomID       string            `json:"room_id"`
	Goal         string            `json:"goal"`
	Input        map[string]string `json:"input,omitempty"`
	Constraints  map[string]string `json:"constraints,omitempty"`
	OutputFormat string            `json:"output_format,omitempty"`
	// ParentIsSidekick must be false at entry; sidekicks never recurse.
	ParentIsSidekick bool `json:"parent_is_sidekick"`
}

// NewTask builds an envelope with a fresh task id.
func NewTask(parentBotID, roomID, goal string) TaskEnvelope {
	return TaskEnvelope{
		TaskID:      uuid.NewString(),
		ParentBotID: parentBotID,
		RoomID:      roomID,
		Goal:        goal,
	}
}

// Result is the outcome of one sub-task.
type Result struct {
	TaskID     string       `json:"task_id"`
	Status     ResultStatus `json:"status"`
	Summary    string       `json:"summary,omitempty"`
	Artifacts  []string     `json:"artifacts,omitempty"`
	Notes      string       `json:"notes,omitempty"`
	DurationMs int64        `json:"duration_ms"`
}
