package commands

import (
	"context"
	"fmt"
	"io"
	"path/filepath"

	"github.com/alecthomas/kingpin/v2"
	"k8s.io/client-go/util/homedir"

	"github.com/taskmill/taskmill/internal/log"
	"github.com/taskmill/taskmill/internal/model"
	"github.com/taskmill/taskmill/internal/provider"
	providerdocker "github.com/taskmill/taskmill/internal/provider/docker"
	providerfake "github.com/taskmill/taskmill/internal/provider/fake"
	providerlocal "github.com/taskmill/taskmill/internal/provider/local"
)

const (
	// LoggerTypeDefault is the logger default type.
	LoggerTypeDefault = "default"
	// LoggerTypeJSON is the logger json type.
	LoggerTypeJSON = "json"
)

// Command represents an application command, all commands that want to be
// executed should implement and setup on main.
type Command interface {
	Name() string
	Run(ctx context.Context) error
}

// RootCommand represents the root command configuration and global
// configuration for all the commands.
type RootCommand struct {
	// Global flags.
	Debug       bool
	NoLog       bool
	NoColor     bool
	LoggerType  string
	DBPath      string
	SandboxRoot string

	// Global instances.
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	Logger log.Logger
}

// NewRootCommand initializes the main root configuration.
func NewRootCommand(app *kingpin.Application) *RootCommand {
	c := &RootCommand{}

	app.Flag("debug", "Enable debug mode.").BoolVar(&c.Debug)
	app.Flag("no-log", "Disable logger.").BoolVar(&c.NoLog)
	app.Flag("no-color", "Disable logger color.").BoolVar(&c.NoColor)
	app.Flag("logger", "Selects the logger type.").Default(LoggerTypeDefault).EnumVar(&c.LoggerType, LoggerTypeDefault, LoggerTypeJSON)

	defaultDBPath := filepath.Join(homedir.HomeDir(), ".taskmill", "taskmill.db")
	app.Flag("db-path", "Path to the SQLite database file.").Envar("TASKMILL_DB_PATH").Default(defaultDBPath).StringVar(&c.DBPath)

	defaultSandboxRoot := filepath.Join(homedir.HomeDir(), ".taskmill", "sandboxes")
	app.Flag("sandbox-root", "Directory for local-provider sandboxes.").Envar("TASKMILL_SANDBOX_ROOT").Default(defaultSandboxRoot).StringVar(&c.SandboxRoot)

	return c
}

// newSelector builds the provider set available to commands. Providers that
// cannot initialize (e.g. no Docker daemon client) are skipped; commands fail
// later only when they actually need one.
func (c *RootCommand) newSelector() (provider.Selector, error) {
	selector := provider.StaticSelector{}

	if p, err := providerdocker.NewProvider(providerdocker.ProviderConfig{Logger: c.Logger}); err == nil {
		selector[model.ProviderTypeDocker] = p
	} else {
		c.Logger.Debugf("Docker provider unavailable: %s", err)
	}

	localP, err := providerlocal.NewProvider(providerlocal.ProviderConfig{RootDir: c.SandboxRoot, Logger: c.Logger})
	if err != nil {
		return nil, fmt.Errorf("could not create local provider: %w", err)
	}
	selector[model.ProviderTypeLocal] = localP

	fakeP, err := providerfake.NewProvider(providerfake.ProviderConfig{Logger: c.Logger})
	if err != nil {
		return nil, fmt.Errorf("could not create fake provider: %w", err)
	}
	selector[model.ProviderTypeFake] = fakeP

	return selector, nil
}
