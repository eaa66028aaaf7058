// Package coordinator turns user requests into delegated tasks and
// routes specialist replies back to completion.
package coordinator

import (
	"time"

	"github.com/google/uuid"
)

// TaskStatus is the lifecycle state of a delegated task.
type TaskStatus string

const (
	StatusCreated    TaskStatus = "created"
	StatusInProgress TaskStatus = "in_progress"
	StatusCompleted  TaskStatus = "completed"
	StatusFailed     TaskStatus = "failed"
	StatusCancelled  TaskStatus = "cancelled"
)

// Task is one unit of delegated work. Mutated only by the Coordinator
// that owns it; terminal once completed, failed, or cancelled.
type Task struct {
	ID           string     `json:"id"`
	Title        string     `json:"title"`
	Description  string     `json:"description"`
	Domain       string     `json:"domain"`
	AssignedTo   string     `json:"assigned_to"`
	CreatedBy    string     `json:"created_by"`
	Status       TaskStatus `json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	Requirements []string   `json:"requirements,omitempty"`
	DueDate      *time.Time `json:"due_date,omitempty"`
	ParentTaskID string     `json:"parent_task_id,omitempty"`
	Result       string     `json:"result,omitempty"`
	Confidence   float64    `json:"confidence,omitempty"`
	Learnings    []string   `json:"learnings,omitempty"`
	FollowUps    []string   `json:"follow_ups,omitempty"`
	Error        string     `json:"error,omitempty"`
}

func newTask(title, description, domain, assignedTo, createdBy string) *Task {
	return &Task{
		ID:          uuid.NewString(),
		Title:       title,
		Description: description,
		Domain:      domain,
		AssignedTo:  assignedTo,
		CreatedBy:   createdBy,
		Status:      StatusInProgress,
		CreatedAt:   time.Now(),
	}
}

// IsTerminal reports whether the task can no longer change state.
func (t *Task) IsTerminal() bool {
	switch t.Status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

func (t *Task) markCompleted(result string, confidence float64) {
	now := time.Now()
	t.Status = StatusCompleted
	t.Result = result
	t.Confidence = confidence
	t.CompletedAt = &now
}

func (t *Task) markFailed(errMsg string) {
	now := time.Now()
	t.Status = StatusFailed
	t.Error = errMsg
	t.CompletedAt = &now
}
