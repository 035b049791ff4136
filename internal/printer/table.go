package printer

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/taskmill/taskmill/internal/model"
)

// TablePrinter prints task information in a table format.
type TablePrinter struct {
	writer io.Writer
}

// NewTablePrinter creates a new table printer.
func NewTablePrinter(w io.Writer) *TablePrinter {
	return &TablePrinter{writer: w}
}

// PrintList prints tasks in a table format.
func (t *TablePrinter) PrintList(tasks []model.Task) error {
	if len(tasks) == 0 {
		return nil
	}

	tw := tabwriter.NewWriter(t.writer, 0, 0, 2, ' ', 0)
	defer tw.Flush()

	// Print header
	fmt.Fprintln(tw, "ID\tAGENT\tSTATUS\tTITLE\tCREATED")

	// Print rows
	for _, task := range tasks {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", task.ID, task.AgentType, task.Status, truncate(task.Title, 40), TimeAgo(task.CreatedAt))
	}

	return nil
}

// PrintStatus prints detailed task status with its ordered log lines and
// conversation messages.
func (t *TablePrinter) PrintStatus(task model.Task, logs []model.LogEntry, messages []model.ConversationMessage) error {
	fmt.Fprintf(t.writer, "ID:         %s\n", task.ID)
	fmt.Fprintf(t.writer, "Status:     %s\n", task.Status)
	fmt.Fprintf(t.writer, "Progress:   %d%%\n", task.Progress)
	fmt.Fprintf(t.writer, "Agent:      %s\n", task.AgentType)

	if task.Model != "" {
		fmt.Fprintf(t.writer, "Model:      %s\n", task.Model)
	}
	if task.Title != "" {
		fmt.Fprintf(t.writer, "Title:      %s\n", task.Title)
	}
	fmt.Fprintf(t.writer, "Repo:       %s\n", task.RepoURL)
	if task.BranchName != "" {
		fmt.Fprintf(t.writer, "Branch:     %s\n", task.BranchName)
	}
	if task.SandboxID != "" {
		fmt.Fprintf(t.writer, "Sandbox:    %s (%s)\n", task.SandboxID, task.SandboxType)
	}
	if task.PushFailed {
		fmt.Fprintf(t.writer, "Push:       failed\n")
	}
	if task.Error != "" {
		fmt.Fprintf(t.writer, "Error:      %s\n", task.Error)
	}

	fmt.Fprintf(t.writer, "Created:    %s\n", FormatTimestamp(task.CreatedAt))
	fmt.Fprintf(t.writer, "Updated:    %s\n", FormatTimestamp(task.UpdatedAt))

	if task.LastHeartbeat != nil {
		fmt.Fprintf(t.writer, "Heartbeat:  %s\n", FormatTimestamp(*task.LastHeartbeat))
	}

	if len(logs) > 0 {
		fmt.Fprintf(t.writer, "\nLog:\n")
		for _, l := range logs {
			fmt.Fprintf(t.writer, "  [%s] %s\n", FormatTimestamp(l.CreatedAt), l.Message)
		}
	}

	if len(messages) > 0 {
		fmt.Fprintf(t.writer, "\nConversation:\n")
		for _, m := range messages {
			fmt.Fprintf(t.writer, "  %s: %s\n", m.Role, m.Content)
		}
	}

	return nil
}

// PrintMessage prints a simple text message.
func (t *TablePrinter) PrintMessage(msg string) error {
	fmt.Fprintln(t.writer, msg)
	return nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
