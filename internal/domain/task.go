package domain

import "time"

// TaskStatus is the lifecycle state of an agent task.
//
// The state machine is pending → running → {completed | failed}. Terminal
// states are final; a retry requires a new submission.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
)

// Terminal reports whether the status is final.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

// TaskSpec describes the work an agent task should perform.
type TaskSpec struct {
	Description string `json:"task"`
	MaxSteps    int    `json:"max_steps"`
	Model       string `json:"model,omitempty"`
}

// Task is one asynchronous agent execution and its pollable status record.
// Result is present only when completed; Error only when failed.
type Task struct {
	ID             string     `json:"task_id"`
	SessionID      string     `json:"session_id"`
	Spec           TaskSpec   `json:"spec"`
	Status         TaskStatus `json:"status"`
	Result         string     `json:"result,omitempty"`
	Error          string     `json:"error,omitempty"`
	StepsCompleted int        `json:"steps_completed"`
	CreatedAt      time.Time  `json:"created_at"`
	StartedAt      time.Time  `json:"started_at,omitzero"`
	CompletedAt    time.Time  `json:"completed_at,omitzero"`
}

// TaskEvent is emitted on every task status transition.
type TaskEvent struct {
	TaskID    string     `json:"task_id"`
	SessionID string     `json:"session_id"`
	Status    TaskStatus `json:"status"`
	Error     string     `json:"error,omitempty"`
	At        time.Time  `json:"at"`
}
