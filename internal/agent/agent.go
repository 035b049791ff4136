// Package agent runs coding-agent CLI backends inside sandboxes and parses
// their streaming event protocols into a uniform result.
package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/taskmill/taskmill/internal/gitops"
	"github.com/taskmill/taskmill/internal/log"
	"github.com/taskmill/taskmill/internal/model"
	"github.com/taskmill/taskmill/internal/provider"
	"github.com/taskmill/taskmill/internal/runner"
)

// ExecuteRequest carries everything one agent execution needs. Credentials
// travel here explicitly; executors never touch the process environment.
type ExecuteRequest struct {
	Sandbox     *model.SandboxInstance
	Instruction string
	Model       string

	// SessionID resumes a prior conversation when it matches the backend's
	// identifier shape; otherwise the executor falls back to continuing the
	// most recent one.
	SessionID string
	// Resumed marks a sandbox reused from a previous run. Resumed sandboxes
	// are never reinstalled.
	Resumed bool

	Credentials model.AgentCredentials
	Connectors  []model.Connector

	CancelCheck provider.CancelCheck
	// OnActivity receives nested agent operation updates, used for
	// heartbeat-based timeout extensions.
	OnActivity func(model.SubAgentActivity)
}

// Executor is the capability every agent backend implements.
type Executor interface {
	Name() model.AgentType
	// EnsureInstalled makes the backend CLI available in the sandbox. It is
	// idempotent: an existing binary is never reinstalled.
	EnsureInstalled(ctx context.Context, sandbox *model.SandboxInstance, resumed bool) error
	// Execute runs one instruction and reports the uniform result. Expected
	// failures (stall, output cap, cancellation, missing credential) return
	// a partial result together with a sentinel-wrapped error so callers can
	// classify them.
	Execute(ctx context.Context, req ExecuteRequest) (*model.AgentExecutionResult, error)
}

// ExecutorConfig is the shared configuration for all executors.
type ExecutorConfig struct {
	Runner *runner.Runner
	Git    *gitops.Service

	// InactivityTimeout ends the completion wait when the stream stops
	// emitting bytes, reported as a stalled agent.
	InactivityTimeout time.Duration
	// MaxWait is the absolute cap of the completion wait. Hitting it falls
	// through to result derivation, it is not an error by itself.
	MaxWait time.Duration
	// MaxOutputBytes is the hard cap on accumulated stream output.
	MaxOutputBytes int64
	// MinOutputBytes is the near-zero output threshold: runs that end with
	// less accumulated content and no terminal event count as failed.
	MinOutputBytes int
	// PollInterval is the completion-wait poll tick.
	PollInterval time.Duration

	Logger log.Logger
}

func (c *ExecutorConfig) defaults() error {
	if c.Runner == nil {
		return fmt.Errorf("runner is required")
	}
	if c.Git == nil {
		return fmt.Errorf("git service is required")
	}
	if c.InactivityTimeout == 0 {
		c.InactivityTimeout = 2 * time.Minute
	}
	if c.MaxWait == 0 {
		c.MaxWait = 5 * time.Minute
	}
	if c.MaxOutputBytes == 0 {
		c.MaxOutputBytes = 10 * 1024 * 1024
	}
	if c.MinOutputBytes == 0 {
		c.MinOutputBytes = 8
	}
	if c.PollInterval == 0 {
		c.PollInterval = time.Second
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	return nil
}

// New creates the executor for an agent backend. Dispatch is a closed enum
// switch: unknown backends are rejected, never looked up dynamically.
func New(t model.AgentType, cfg ExecutorConfig) (Executor, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	switch t {
	case model.AgentTypeClaude:
		return newExecutor(cfg, claudeBackend{}), nil
	case model.AgentTypeCodex:
		return newExecutor(cfg, codexBackend{}), nil
	case model.AgentTypeGemini:
		return newExecutor(cfg, geminiBackend{}), nil
	case model.AgentTypeOpenCode:
		return newExecutor(cfg, opencodeBackend{}), nil
	case model.AgentTypeAider:
		return newExecutor(cfg, aiderBackend{}), nil
	case model.AgentTypeQwen:
		return newExecutor(cfg, qwenBackend{}), nil
	}

	return nil, fmt.Errorf("unknown agent type %q: %w", string(t), model.ErrNotValid)
}
