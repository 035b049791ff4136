package model

import (
	"fmt"
	"time"
)

// TaskStatus represents the lifecycle state of a task.
//
// Status only moves forward: pending -> processing -> {completed|error|stopped}.
// Stopped is reachable from processing only.
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusError      TaskStatus = "error"
	TaskStatusStopped    TaskStatus = "stopped"
)

// IsTerminal returns true when the status admits no further transitions.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusError, TaskStatusStopped:
		return true
	}
	return false
}

// CanTransitionTo validates a forward-only status transition.
func (s TaskStatus) CanTransitionTo(next TaskStatus) bool {
	switch s {
	case TaskStatusPending:
		return next == TaskStatusProcessing
	case TaskStatusProcessing:
		return next == TaskStatusCompleted || next == TaskStatusError || next == TaskStatusStopped
	}
	return false
}

// Task is the unit of work: one prompt executed by one agent backend against
// one repository inside one sandbox.
type Task struct {
	ID     string
	UserID string

	Prompt    string
	RepoURL   string
	AgentType AgentType
	Model     string

	Status   TaskStatus
	Progress int
	Error    string

	BranchName string
	Title      string

	SandboxID   string
	SandboxType ProviderType
	KeepAlive   bool

	SessionID string

	// CancelRequested is the cooperative cancellation flag. It is set by the
	// stop path and read at pipeline checkpoints; it never resets.
	CancelRequested bool

	LastHeartbeat      *time.Time
	HeartbeatExtension int

	PushFailed bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Validate validates the task fields needed before processing starts.
func (t *Task) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("id is required: %w", ErrNotValid)
	}
	if t.Prompt == "" {
		return fmt.Errorf("prompt is required: %w", ErrNotValid)
	}
	if t.RepoURL == "" {
		return fmt.Errorf("repo url is required: %w", ErrNotValid)
	}
	if err := t.AgentType.Validate(); err != nil {
		return err
	}
	return nil
}

// TaskUpdate is a partial update of the mutable task fields. Nil fields are
// left untouched.
type TaskUpdate struct {
	Status             *TaskStatus
	Progress           *int
	Error              *string
	BranchName         *string
	Title              *string
	SandboxID          *string
	SandboxType        *ProviderType
	SessionID          *string
	CancelRequested    *bool
	LastHeartbeat      *time.Time
	HeartbeatExtension *int
	PushFailed         *bool
}

// LogEntry is a single ordered log line attached to a task.
type LogEntry struct {
	TaskID    string
	Sequence  int
	Message   string
	CreatedAt time.Time
}

// MessageRole identifies the author of a conversation message.
type MessageRole string

const (
	MessageRoleUser      MessageRole = "user"
	MessageRoleAssistant MessageRole = "assistant"
)

// ConversationMessage is one turn of a task's conversation thread: the
// original prompt and the agent's final replies.
type ConversationMessage struct {
	TaskID    string
	Sequence  int
	Role      MessageRole
	Content   string
	CreatedAt time.Time
}

// SubAgentActivityStatus is the state of a nested agent operation.
type SubAgentActivityStatus string

const (
	SubAgentRunning   SubAgentActivityStatus = "running"
	SubAgentCompleted SubAgentActivityStatus = "completed"
	SubAgentFailed    SubAgentActivityStatus = "failed"
)

// SubAgentActivity is a transient record of a nested agent operation in
// flight. It justifies heartbeat-based timeout extensions while running.
type SubAgentActivity struct {
	Name        string
	Kind        string
	Status      SubAgentActivityStatus
	StartedAt   time.Time
	CompletedAt *time.Time
}
