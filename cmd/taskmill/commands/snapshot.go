package commands

import (
	"context"
	"crypto/rand"
	"fmt"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/oklog/ulid/v2"

	"github.com/taskmill/taskmill/internal/model"
	"github.com/taskmill/taskmill/internal/printer"
	"github.com/taskmill/taskmill/internal/provider"
	"github.com/taskmill/taskmill/internal/storage/sqlite"
)

type SnapshotCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	taskID string
}

// NewSnapshotCommand returns the snapshot command.
func NewSnapshotCommand(rootCmd *RootCommand, app *kingpin.Application) *SnapshotCommand {
	c := &SnapshotCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("snapshot", "Checkpoint the sandbox of a keep-alive task as an image.")
	c.Cmd.Arg("task-id", "Task ID.").Required().StringVar(&c.taskID)

	return c
}

func (c SnapshotCommand) Name() string { return c.Cmd.FullCommand() }

func (c SnapshotCommand) Run(ctx context.Context) error {
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

	task, err := repo.GetTask(ctx, c.taskID)
	if err != nil {
		return fmt.Errorf("could not get task: %w", err)
	}
	if task.SandboxID == "" {
		return fmt.Errorf("task %s has no sandbox: run it with --keep-alive first", c.taskID)
	}

	selector, err := c.rootCmd.newSelector()
	if err != nil {
		return fmt.Errorf("could not create sandbox providers: %w", err)
	}

	prov, err := selector.ForType(task.SandboxType)
	if err != nil {
		return fmt.Errorf("could not resolve the %q provider: %w", task.SandboxType, err)
	}

	snapshotter, ok := prov.(provider.Snapshotter)
	if !ok {
		return fmt.Errorf("the %q provider does not support snapshots", task.SandboxType)
	}

	sandbox := &model.SandboxInstance{
		ID:       task.SandboxID,
		Type:     task.SandboxType,
		Metadata: map[string]string{},
	}

	snapshotID := ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
	if err := snapshotter.Snapshot(ctx, sandbox, snapshotID); err != nil {
		return fmt.Errorf("could not snapshot sandbox: %w", err)
	}

	p := printer.NewTablePrinter(c.rootCmd.Stdout)
	if err := p.PrintMessage(fmt.Sprintf("Snapshot created: %s", snapshotID)); err != nil {
		return fmt.Errorf("could not print message: %w", err)
	}

	return nil
}

type RestoreCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	snapshotID string
	provider   string
}

// NewRestoreCommand returns the restore command.
func NewRestoreCommand(rootCmd *RootCommand, app *kingpin.Application) *RestoreCommand {
	c := &RestoreCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("restore", "Recreate a sandbox from a snapshot.")
	c.Cmd.Arg("snapshot-id", "Snapshot ID.").Required().StringVar(&c.snapshotID)
	c.Cmd.Flag("provider", "Sandbox provider backend.").Default(string(model.ProviderTypeDocker)).EnumVar(&c.provider,
		string(model.ProviderTypeDocker), string(model.ProviderTypeLocal), string(model.ProviderTypeFake))

	return c
}

func (c RestoreCommand) Name() string { return c.Cmd.FullCommand() }

func (c RestoreCommand) Run(ctx context.Context) error {
	selector, err := c.rootCmd.newSelector()
	if err != nil {
		return fmt.Errorf("could not create sandbox providers: %w", err)
	}

	prov, err := selector.ForType(model.ProviderType(c.provider))
	if err != nil {
		return fmt.Errorf("could not resolve the %q provider: %w", c.provider, err)
	}

	snapshotter, ok := prov.(provider.Snapshotter)
	if !ok {
		return fmt.Errorf("the %q provider does not support snapshots", c.provider)
	}

	sandbox, err := snapshotter.Restore(ctx, c.snapshotID)
	if err != nil {
		return fmt.Errorf("could not restore snapshot: %w", err)
	}

	p := printer.NewTablePrinter(c.rootCmd.Stdout)
	msg := fmt.Sprintf("Restored sandbox: %s", sandbox.ID)
	if name := sandbox.Metadata["container_name"]; name != "" {
		msg = fmt.Sprintf("%s (container: %s)", msg, name)
	}
	if err := p.PrintMessage(msg); err != nil {
		return fmt.Errorf("could not print message: %w", err)
	}

	return nil
}
