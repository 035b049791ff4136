package storage

import (
	"context"

	"github.com/taskmill/taskmill/internal/model"
)

// TaskRepository is the interface for task persistence.
//
// The persisted task row is the single source of truth for status and
// heartbeat. Only the task processor and its logger write it; every other
// component reads it for cancellation checks.
type TaskRepository interface {
	CreateTask(ctx context.Context, t model.Task) error
	GetTask(ctx context.Context, id string) (*model.Task, error)
	ListTasks(ctx context.Context) ([]model.Task, error)
	UpdateTask(ctx context.Context, id string, update model.TaskUpdate) error
	AppendLog(ctx context.Context, taskID string, message string) error
	ListLogs(ctx context.Context, taskID string) ([]model.LogEntry, error)
	AppendMessage(ctx context.Context, taskID string, role model.MessageRole, content string) error
	ListMessages(ctx context.Context, taskID string) ([]model.ConversationMessage, error)
}

// ConnectorRepository is the read-only interface for configured tool servers.
// Connectors are owned and mutated elsewhere; this core only consumes them.
type ConnectorRepository interface {
	ListConnectors(ctx context.Context, userID string) ([]model.Connector, error)
}
