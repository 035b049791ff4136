package printer

import (
	"encoding/json"
	"io"
	"time"

	"github.com/taskmill/taskmill/internal/model"
)

// JSONPrinter prints task information in JSON format.
type JSONPrinter struct {
	writer io.Writer
}

// NewJSONPrinter creates a new JSON printer.
func NewJSONPrinter(w io.Writer) *JSONPrinter {
	return &JSONPrinter{writer: w}
}

// listItem represents a task in the list output (subset of fields).
type listItem struct {
	ID        string    `json:"id"`
	Agent     string    `json:"agent"`
	Status    string    `json:"status"`
	Title     string    `json:"title,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// statusOutput represents the full task status output.
type statusOutput struct {
	ID            string        `json:"id"`
	Status        string        `json:"status"`
	Progress      int           `json:"progress"`
	Agent         string        `json:"agent"`
	Model         string        `json:"model,omitempty"`
	Title         string        `json:"title,omitempty"`
	Repo          string        `json:"repo"`
	Branch        string        `json:"branch,omitempty"`
	SandboxID     string        `json:"sandbox_id,omitempty"`
	SandboxType   string        `json:"sandbox_type,omitempty"`
	PushFailed    bool          `json:"push_failed,omitempty"`
	Error         string        `json:"error,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
	LastHeartbeat *time.Time    `json:"last_heartbeat,omitempty"`
	Logs          []logLine     `json:"logs,omitempty"`
	Messages      []messageLine `json:"messages,omitempty"`
}

// logLine represents a single task log entry.
type logLine struct {
	Sequence  int       `json:"sequence"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// messageLine represents a single conversation message.
type messageLine struct {
	Sequence  int       `json:"sequence"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// messageOutput represents a simple message output.
type messageOutput struct {
	Message string `json:"message"`
}

// PrintList prints tasks in JSON format with a subset of fields.
func (j *JSONPrinter) PrintList(tasks []model.Task) error {
	items := make([]listItem, len(tasks))
	for i, t := range tasks {
		items[i] = listItem{
			ID:        t.ID,
			Agent:     string(t.AgentType),
			Status:    string(t.Status),
			Title:     t.Title,
			CreatedAt: t.CreatedAt.UTC(),
		}
	}

	enc := json.NewEncoder(j.writer)
	enc.SetIndent("", "  ")
	return enc.Encode(items)
}

// PrintStatus prints detailed task status in JSON format.
func (j *JSONPrinter) PrintStatus(task model.Task, logs []model.LogEntry, messages []model.ConversationMessage) error {
	output := statusOutput{
		ID:          task.ID,
		Status:      string(task.Status),
		Progress:    task.Progress,
		Agent:       string(task.AgentType),
		Model:       task.Model,
		Title:       task.Title,
		Repo:        task.RepoURL,
		Branch:      task.BranchName,
		SandboxID:   task.SandboxID,
		SandboxType: string(task.SandboxType),
		PushFailed:  task.PushFailed,
		Error:       task.Error,
		CreatedAt:   task.CreatedAt.UTC(),
		UpdatedAt:   task.UpdatedAt.UTC(),
	}

	if task.LastHeartbeat != nil {
		utcTime := task.LastHeartbeat.UTC()
		output.LastHeartbeat = &utcTime
	}

	for _, l := range logs {
		output.Logs = append(output.Logs, logLine{
			Sequence:  l.Sequence,
			Message:   l.Message,
			CreatedAt: l.CreatedAt.UTC(),
		})
	}

	for _, m := range messages {
		output.Messages = append(output.Messages, messageLine{
			Sequence:  m.Sequence,
			Role:      string(m.Role),
			Content:   m.Content,
			CreatedAt: m.CreatedAt.UTC(),
		})
	}

	enc := json.NewEncoder(j.writer)
	enc.SetIndent("", "  ")
	return enc.Encode(output)
}

// PrintMessage prints a simple message in JSON format.
func (j *JSONPrinter) PrintMessage(msg string) error {
	output := messageOutput{Message: msg}
	enc := json.NewEncoder(j.writer)
	enc.SetIndent("", "  ")
	return enc.Encode(output)
}
