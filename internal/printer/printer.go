package printer

import "github.com/taskmill/taskmill/internal/model"

// Printer knows how to print task information in different formats.
type Printer interface {
	PrintList(tasks []model.Task) error
	PrintStatus(task model.Task, logs []model.LogEntry, messages []model.ConversationMessage) error
	PrintMessage(msg string) error
}
