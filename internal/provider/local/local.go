// Package local implements the sandbox provider on a host work directory.
//
// It gives no container isolation: each sandbox is a scoped directory under a
// root with the repository cloned into it. It exists for daemonless setups
// and development machines where Docker is unavailable.
package local

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/oklog/ulid/v2"

	"github.com/taskmill/taskmill/internal/log"
	"github.com/taskmill/taskmill/internal/model"
	"github.com/taskmill/taskmill/internal/provider"
)

// ProviderConfig is the configuration for the local provider.
type ProviderConfig struct {
	// RootDir is the directory all sandboxes live under.
	RootDir string
	Logger  log.Logger
}

func (c *ProviderConfig) defaults() error {
	if c.RootDir == "" {
		return fmt.Errorf("root dir is required")
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "provider.Local"})
	return nil
}

// Provider is the host-directory implementation of provider.Provider.
type Provider struct {
	rootDir string
	logger  log.Logger
}

// NewProvider creates a new local provider.
func NewProvider(cfg ProviderConfig) (*Provider, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if err := os.MkdirAll(cfg.RootDir, 0755); err != nil {
		return nil, fmt.Errorf("could not create sandbox root: %w", err)
	}

	return &Provider{
		rootDir: cfg.RootDir,
		logger:  cfg.Logger,
	}, nil
}

// Type returns the local provider type.
func (p *Provider) Type() model.ProviderType { return model.ProviderTypeLocal }

// Create provisions a work directory and clones the repository into it.
func (p *Provider) Create(ctx context.Context, cfg model.SandboxConfig, opts provider.CreateOpts, logger log.Logger) (*model.SandboxResult, error) {
	if logger == nil {
		logger = p.logger
	}
	if err := cfg.Validate(); err != nil {
		return &model.SandboxResult{Success: false, Error: err.Error()}, nil
	}

	cancelled := func() bool { return opts.CancelCheck != nil && opts.CancelCheck(ctx) }
	if cancelled() {
		return &model.SandboxResult{Cancelled: true}, nil
	}

	id := ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()

	// The sandbox id comes from us, but the join is still scoped to the root
	// so a corrupted id can never escape it.
	workDir, err := securejoin.SecureJoin(p.rootDir, strings.ToLower(id))
	if err != nil {
		return &model.SandboxResult{Success: false, Error: "could not allocate sandbox work directory"}, nil
	}

	if opts.OnProgress != nil {
		opts.OnProgress("creating work directory")
	}
	if err := os.MkdirAll(workDir, 0755); err != nil {
		return &model.SandboxResult{Success: false, Error: "could not allocate sandbox work directory"}, nil
	}

	cleanup := func() { _ = os.RemoveAll(workDir) }

	if cancelled() {
		cleanup()
		return &model.SandboxResult{Cancelled: true}, nil
	}

	if opts.OnProgress != nil {
		opts.OnProgress("cloning repository")
	}
	cloneArgs := []string{"clone"}
	if cfg.CloneDepth > 0 {
		cloneArgs = append(cloneArgs, "--depth", fmt.Sprintf("%d", cfg.CloneDepth))
	}
	cloneArgs = append(cloneArgs, cfg.RepoURL, workDir)

	cmd := exec.CommandContext(ctx, "git", cloneArgs...)
	if err := cmd.Run(); err != nil {
		cleanup()
		if ctx.Err() != nil {
			return &model.SandboxResult{Success: false, Error: "repository clone timed out: the repository may be too large"}, nil
		}
		return &model.SandboxResult{Success: false, Error: "could not clone repository: check the URL and access token"}, nil
	}

	sandbox := &model.SandboxInstance{
		ID:        id,
		Type:      model.ProviderTypeLocal,
		WorkDir:   workDir,
		Metadata:  map[string]string{"task_id": cfg.TaskID},
		CreatedAt: time.Now().UTC(),
	}

	logger.Infof("Created local sandbox: %s (%s)", id, workDir)

	return &model.SandboxResult{Success: true, Sandbox: sandbox}, nil
}

// Exec executes a command in the sandbox work directory.
func (p *Provider) Exec(ctx context.Context, sandbox *model.SandboxInstance, command []string, opts model.ExecOpts) (*model.ExecResult, error) {
	if len(command) == 0 {
		return nil, fmt.Errorf("command cannot be empty: %w", model.ErrNotValid)
	}

	workingDir := opts.WorkingDir
	if workingDir == "" {
		workingDir = sandbox.WorkDir
	}
	if _, err := os.Stat(workingDir); err != nil {
		return nil, fmt.Errorf("sandbox %s: %w", sandbox.ID, model.ErrNotFound)
	}

	cmd := exec.CommandContext(ctx, command[0], command[1:]...)
	cmd.Dir = workingDir
	cmd.Env = os.Environ()
	for k, v := range opts.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}
	if opts.Stdin != nil {
		cmd.Stdin = opts.Stdin
	}
	if opts.Stdout != nil {
		cmd.Stdout = opts.Stdout
	}
	if opts.Stderr != nil {
		cmd.Stderr = opts.Stderr
	}

	err := cmd.Run()

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			return nil, fmt.Errorf("failed to execute command: %w", err)
		}
	}

	return &model.ExecResult{ExitCode: exitCode}, nil
}

// Destroy removes the sandbox work directory. Removing a missing directory
// succeeds.
func (p *Provider) Destroy(ctx context.Context, sandbox *model.SandboxInstance, logger log.Logger) error {
	if logger == nil {
		logger = p.logger
	}

	workDir := sandbox.WorkDir
	if workDir == "" {
		joined, err := securejoin.SecureJoin(p.rootDir, strings.ToLower(sandbox.ID))
		if err != nil {
			return fmt.Errorf("could not resolve sandbox work directory: %w", err)
		}
		workDir = joined
	}

	if err := os.RemoveAll(workDir); err != nil {
		return fmt.Errorf("could not remove sandbox work directory: %w", err)
	}
	logger.Infof("Destroyed local sandbox: %s", sandbox.ID)

	return nil
}
