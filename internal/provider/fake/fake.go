// Package fake provides an in-memory provider implementation for tests and
// local development. It simulates sandbox lifecycle without creating real
// containers and records every call for auditing.
package fake

import (
	"context"
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/taskmill/taskmill/internal/log"
	"github.com/taskmill/taskmill/internal/model"
	"github.com/taskmill/taskmill/internal/provider"
)

// ExecFn handles a fake exec call. Returning a nil result means "use exit 0".
type ExecFn func(ctx context.Context, sandbox *model.SandboxInstance, command []string, opts model.ExecOpts) (*model.ExecResult, error)

// ProviderConfig is the configuration for the fake provider.
type ProviderConfig struct {
	// ExecHandler intercepts exec calls. Optional.
	ExecHandler ExecFn
	// FailCreate makes every create call fail with the given message.
	FailCreate string
	Logger     log.Logger
}

func (c *ProviderConfig) defaults() error {
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "provider.Fake"})
	return nil
}

// Provider is a fake implementation of provider.Provider.
type Provider struct {
	sandboxes map[string]*model.SandboxInstance
	execFn    ExecFn
	failMsg   string
	mu        sync.Mutex
	logger    log.Logger

	createCalls   int
	createConfigs []model.SandboxConfig
	destroyCalls  []string
	execCalls     [][]string
}

// NewProvider creates a new fake provider.
func NewProvider(cfg ProviderConfig) (*Provider, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Provider{
		sandboxes: make(map[string]*model.SandboxInstance),
		execFn:    cfg.ExecHandler,
		failMsg:   cfg.FailCreate,
		logger:    cfg.Logger,
	}, nil
}

// Type returns the fake provider type.
func (p *Provider) Type() model.ProviderType { return model.ProviderTypeFake }

// Create simulates sandbox provisioning. The cancel check is honored between
// the two internal steps, the same seam a real provider has between resource
// creation and repository cloning.
func (p *Provider) Create(ctx context.Context, cfg model.SandboxConfig, opts provider.CreateOpts, logger log.Logger) (*model.SandboxResult, error) {
	p.mu.Lock()
	p.createCalls++
	p.createConfigs = append(p.createConfigs, cfg)
	p.mu.Unlock()

	if err := cfg.Validate(); err != nil {
		return &model.SandboxResult{Success: false, Error: err.Error()}, nil
	}

	if p.failMsg != "" {
		return &model.SandboxResult{Success: false, Error: p.failMsg}, nil
	}

	if opts.CancelCheck != nil && opts.CancelCheck(ctx) {
		return &model.SandboxResult{Cancelled: true}, nil
	}

	id := ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
	if opts.OnProgress != nil {
		opts.OnProgress("creating sandbox")
	}

	if opts.CancelCheck != nil && opts.CancelCheck(ctx) {
		// Nothing visible was created yet, so cancellation leaks nothing.
		return &model.SandboxResult{Cancelled: true}, nil
	}

	sandbox := &model.SandboxInstance{
		ID:        id,
		Type:      model.ProviderTypeFake,
		Domain:    fmt.Sprintf("%s.sandbox.invalid", id),
		WorkDir:   "/workspace",
		Metadata:  map[string]string{"task_id": cfg.TaskID},
		CreatedAt: time.Now().UTC(),
	}

	p.mu.Lock()
	p.sandboxes[id] = sandbox
	p.mu.Unlock()

	p.logger.Infof("Created fake sandbox: %s", id)

	return &model.SandboxResult{Success: true, Sandbox: sandbox, Domain: sandbox.Domain}, nil
}

// Exec runs a fake command.
func (p *Provider) Exec(ctx context.Context, sandbox *model.SandboxInstance, command []string, opts model.ExecOpts) (*model.ExecResult, error) {
	if len(command) == 0 {
		return nil, fmt.Errorf("command cannot be empty: %w", model.ErrNotValid)
	}

	p.mu.Lock()
	_, alive := p.sandboxes[sandbox.ID]
	p.execCalls = append(p.execCalls, command)
	p.mu.Unlock()

	if !alive {
		return nil, fmt.Errorf("sandbox %s: %w", sandbox.ID, model.ErrNotFound)
	}

	if p.execFn != nil {
		res, err := p.execFn(ctx, sandbox, command, opts)
		if err != nil || res != nil {
			return res, err
		}
	}

	return &model.ExecResult{ExitCode: 0}, nil
}

// Destroy releases a fake sandbox. Destroying an unknown sandbox succeeds.
func (p *Provider) Destroy(ctx context.Context, sandbox *model.SandboxInstance, logger log.Logger) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.destroyCalls = append(p.destroyCalls, sandbox.ID)
	delete(p.sandboxes, sandbox.ID)
	p.logger.Debugf("Destroyed fake sandbox: %s", sandbox.ID)

	return nil
}

// LiveSandboxes returns the IDs of sandboxes not yet destroyed.
func (p *Provider) LiveSandboxes() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	ids := make([]string, 0, len(p.sandboxes))
	for id := range p.sandboxes {
		ids = append(ids, id)
	}
	return ids
}

// CreateCalls returns how many create calls were received.
func (p *Provider) CreateCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.createCalls
}

// CreateConfigs returns the configs create was called with, in order.
func (p *Provider) CreateConfigs() []model.SandboxConfig {
	p.mu.Lock()
	defer p.mu.Unlock()

	configs := make([]model.SandboxConfig, len(p.createConfigs))
	copy(configs, p.createConfigs)
	return configs
}

// DestroyCalls returns the sandbox IDs destroy was called with, in order.
func (p *Provider) DestroyCalls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	calls := make([]string, len(p.destroyCalls))
	copy(calls, p.destroyCalls)
	return calls
}

// ExecCalls returns every exec command received, in order.
func (p *Provider) ExecCalls() [][]string {
	p.mu.Lock()
	defer p.mu.Unlock()

	calls := make([][]string, len(p.execCalls))
	copy(calls, p.execCalls)
	return calls
}
