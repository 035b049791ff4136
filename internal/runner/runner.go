// Package runner executes single commands inside a sandbox with optional
// output streaming. It is the atomic primitive the detector, git plumbing and
// agent executors build on.
package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/kballard/go-shellquote"

	"github.com/taskmill/taskmill/internal/log"
	"github.com/taskmill/taskmill/internal/model"
	"github.com/taskmill/taskmill/internal/provider"
)

// RunnerConfig is the configuration for the runner.
type RunnerConfig struct {
	Provider provider.Provider
	// DefaultTimeout bounds commands run without an explicit timeout.
	DefaultTimeout time.Duration
	Logger         log.Logger
}

func (c *RunnerConfig) defaults() error {
	if c.Provider == nil {
		return fmt.Errorf("provider is required")
	}
	if c.DefaultTimeout == 0 {
		c.DefaultTimeout = 10 * time.Minute
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "runner.Runner"})
	return nil
}

// Runner runs commands in sandboxes through a provider.
type Runner struct {
	provider provider.Provider
	timeout  time.Duration
	logger   log.Logger
}

// NewRunner creates a new runner.
func NewRunner(cfg RunnerConfig) (*Runner, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Runner{
		provider: cfg.Provider,
		timeout:  cfg.DefaultTimeout,
		logger:   cfg.Logger,
	}, nil
}

// Run executes one command in the sandbox, streaming output through the
// sinks in opts. A zero timeout uses the runner default.
func (r *Runner) Run(ctx context.Context, sandbox *model.SandboxInstance, command []string, opts model.ExecOpts, timeout time.Duration) (*model.ExecResult, error) {
	if len(command) == 0 {
		return nil, fmt.Errorf("command cannot be empty: %w", model.ErrNotValid)
	}
	if timeout == 0 {
		timeout = r.timeout
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	r.logger.Debugf("Running in sandbox %s: %s", sandbox.ID, DisplayCommand(command, 120))

	res, err := r.provider.Exec(runCtx, sandbox, command, opts)
	if err != nil {
		if runCtx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("command timed out after %s: %w", timeout, err)
		}
		return nil, err
	}

	return res, nil
}

// RunShell executes a shell command line in the sandbox.
func (r *Runner) RunShell(ctx context.Context, sandbox *model.SandboxInstance, script string, opts model.ExecOpts, timeout time.Duration) (*model.ExecResult, error) {
	return r.Run(ctx, sandbox, []string{"sh", "-c", script}, opts, timeout)
}

// DisplayCommand renders a command for humans, truncated to maxLen runes.
// It is used for log and status lines, never to build the executed command.
func DisplayCommand(command []string, maxLen int) string {
	s := shellquote.Join(command...)
	if maxLen > 0 && len(s) > maxLen {
		s = s[:maxLen] + "..."
	}
	return s
}
