package commands

import (
	"context"
	"fmt"

	"github.com/alecthomas/kingpin/v2"

	"github.com/taskmill/taskmill/internal/model"
	"github.com/taskmill/taskmill/internal/printer"
	"github.com/taskmill/taskmill/internal/registry"
	"github.com/taskmill/taskmill/internal/storage/sqlite"
)

type StopCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	taskID string
}

// NewStopCommand returns the stop command.
func NewStopCommand(rootCmd *RootCommand, app *kingpin.Application) *StopCommand {
	c := &StopCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("stop", "Stop a running task and destroy its sandbox.")
	c.Cmd.Arg("task-id", "Task ID.").Required().StringVar(&c.taskID)

	return c
}

func (c StopCommand) Name() string { return c.Cmd.FullCommand() }

func (c StopCommand) Run(ctx context.Context) error {
	logger := c.rootCmd.Logger

	// Initialize storage (SQLite).
	repo, err := sqlite.NewRepository(ctx, sqlite.RepositoryConfig{
		DBPath: c.rootCmd.DBPath,
		Logger: logger,
	})
	if err != nil {
		return fmt.Errorf("could not create repository: %w", err)
	}
	defer repo.Close()

	selector, err := c.rootCmd.newSelector()
	if err != nil {
		return fmt.Errorf("could not create sandbox providers: %w", err)
	}

	reg, err := registry.NewRegistry(registry.RegistryConfig{
		Repo:     repo,
		Selector: selector,
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("could not create registry: %w", err)
	}

	// Raise the cooperative flag first so a pipeline in another process stops
	// at its next checkpoint, then tear the sandbox down.
	cancelRequested := true
	if err := repo.UpdateTask(ctx, c.taskID, model.TaskUpdate{CancelRequested: &cancelRequested}); err != nil {
		return fmt.Errorf("could not request cancellation: %w", err)
	}

	if err := reg.StopByTask(ctx, c.taskID); err != nil {
		return fmt.Errorf("could not stop task: %w", err)
	}

	p := printer.NewTablePrinter(c.rootCmd.Stdout)
	if err := p.PrintMessage(fmt.Sprintf("Stopped task: %s", c.taskID)); err != nil {
		return fmt.Errorf("could not print message: %w", err)
	}

	return nil
}
