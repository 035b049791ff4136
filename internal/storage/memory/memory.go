package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/taskmill/taskmill/internal/log"
	"github.com/taskmill/taskmill/internal/model"
)

// RepositoryConfig is the configuration for the memory repository.
type RepositoryConfig struct {
	Logger log.Logger
}

func (c *RepositoryConfig) defaults() error {
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "storage.Memory"})
	return nil
}

// Repository is an in-memory implementation of storage.TaskRepository and
// storage.ConnectorRepository.
type Repository struct {
	tasks      map[string]model.Task
	logs       map[string][]model.LogEntry
	messages   map[string][]model.ConversationMessage
	connectors map[string][]model.Connector
	mu         sync.RWMutex
	logger     log.Logger
}

// NewRepository creates a new memory repository.
func NewRepository(cfg RepositoryConfig) (*Repository, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Repository{
		tasks:      make(map[string]model.Task),
		logs:       make(map[string][]model.LogEntry),
		messages:   make(map[string][]model.ConversationMessage),
		connectors: make(map[string][]model.Connector),
		logger:     cfg.Logger,
	}, nil
}

// CreateTask creates a new task in the repository.
func (r *Repository) CreateTask(ctx context.Context, t model.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tasks[t.ID]; ok {
		return fmt.Errorf("task with id %s: %w", t.ID, model.ErrAlreadyExists)
	}

	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	r.tasks[t.ID] = t
	r.logger.Debugf("Created task in repository: %s", t.ID)

	return nil
}

// GetTask retrieves a task by ID.
func (r *Repository) GetTask(ctx context.Context, id string) (*model.Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	task, ok := r.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", id, model.ErrNotFound)
	}

	// Return a copy.
	taskCopy := task
	return &taskCopy, nil
}

// ListTasks returns all tasks sorted by creation time.
func (r *Repository) ListTasks(ctx context.Context) ([]model.Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tasks := make([]model.Task, 0, len(r.tasks))
	for _, t := range r.tasks {
		tasks = append(tasks, t)
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].CreatedAt.Before(tasks[j].CreatedAt) })

	return tasks, nil
}

// UpdateTask applies a partial update to a task.
func (r *Repository) UpdateTask(ctx context.Context, id string, update model.TaskUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	task, ok := r.tasks[id]
	if !ok {
		return fmt.Errorf("task %s: %w", id, model.ErrNotFound)
	}

	if update.Status != nil {
		task.Status = *update.Status
	}
	if update.Progress != nil {
		task.Progress = *update.Progress
	}
	if update.Error != nil {
		task.Error = *update.Error
	}
	if update.BranchName != nil {
		task.BranchName = *update.BranchName
	}
	if update.Title != nil {
		task.Title = *update.Title
	}
	if update.SandboxID != nil {
		task.SandboxID = *update.SandboxID
	}
	if update.SandboxType != nil {
		task.SandboxType = *update.SandboxType
	}
	if update.SessionID != nil {
		task.SessionID = *update.SessionID
	}
	if update.CancelRequested != nil {
		task.CancelRequested = *update.CancelRequested
	}
	if update.LastHeartbeat != nil {
		task.LastHeartbeat = update.LastHeartbeat
	}
	if update.HeartbeatExtension != nil {
		task.HeartbeatExtension = *update.HeartbeatExtension
	}
	if update.PushFailed != nil {
		task.PushFailed = *update.PushFailed
	}
	task.UpdatedAt = time.Now().UTC()

	r.tasks[id] = task

	return nil
}

// AppendLog appends an ordered log entry to a task.
func (r *Repository) AppendLog(ctx context.Context, taskID string, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tasks[taskID]; !ok {
		return fmt.Errorf("task %s: %w", taskID, model.ErrNotFound)
	}

	entries := r.logs[taskID]
	r.logs[taskID] = append(entries, model.LogEntry{
		TaskID:    taskID,
		Sequence:  len(entries) + 1,
		Message:   message,
		CreatedAt: time.Now().UTC(),
	})

	return nil
}

// ListLogs returns the ordered log entries of a task.
func (r *Repository) ListLogs(ctx context.Context, taskID string) ([]model.LogEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := r.logs[taskID]
	result := make([]model.LogEntry, len(entries))
	copy(result, entries)

	return result, nil
}

// AppendMessage appends an ordered conversation message to a task.
func (r *Repository) AppendMessage(ctx context.Context, taskID string, role model.MessageRole, content string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tasks[taskID]; !ok {
		return fmt.Errorf("task %s: %w", taskID, model.ErrNotFound)
	}

	messages := r.messages[taskID]
	r.messages[taskID] = append(messages, model.ConversationMessage{
		TaskID:    taskID,
		Sequence:  len(messages) + 1,
		Role:      role,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	})

	return nil
}

// ListMessages returns the ordered conversation messages of a task.
func (r *Repository) ListMessages(ctx context.Context, taskID string) ([]model.ConversationMessage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	messages := r.messages[taskID]
	result := make([]model.ConversationMessage, len(messages))
	copy(result, messages)

	return result, nil
}

// SetConnectors seeds the connectors for a user.
func (r *Repository) SetConnectors(userID string, connectors []model.Connector) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.connectors[userID] = connectors
}

// ListConnectors returns the configured connectors of a user.
func (r *Repository) ListConnectors(ctx context.Context, userID string) ([]model.Connector, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	connectors := make([]model.Connector, len(r.connectors[userID]))
	copy(connectors, r.connectors[userID])

	return connectors, nil
}
