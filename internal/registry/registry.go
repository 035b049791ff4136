// Package registry tracks live sandboxes for cancellation. It keeps two
// lookup paths on purpose: an in-memory map for same-process stops, and a
// storage-backed path that re-resolves a handle from the persisted sandbox
// identifier when the stop arrives in a different process lifetime.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/taskmill/taskmill/internal/log"
	"github.com/taskmill/taskmill/internal/model"
	"github.com/taskmill/taskmill/internal/provider"
	"github.com/taskmill/taskmill/internal/storage"
)

// Handle is a live, same-process view of a running task's sandbox.
type Handle struct {
	Sandbox *model.SandboxInstance
	// Cancel interrupts the running pipeline immediately.
	Cancel context.CancelFunc
}

// RegistryConfig is the configuration for the registry.
type RegistryConfig struct {
	Repo     storage.TaskRepository
	Selector provider.Selector
	Logger   log.Logger
}

func (c *RegistryConfig) defaults() error {
	if c.Repo == nil {
		return fmt.Errorf("task repository is required")
	}
	if c.Selector == nil {
		return fmt.Errorf("provider selector is required")
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "registry.Registry"})
	return nil
}

// Registry resolves running tasks to stoppable sandbox handles.
type Registry struct {
	repo     storage.TaskRepository
	selector provider.Selector
	logger   log.Logger

	mu      sync.Mutex
	handles map[string]Handle
}

// NewRegistry creates a new registry.
func NewRegistry(cfg RegistryConfig) (*Registry, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Registry{
		repo:     cfg.Repo,
		selector: cfg.Selector,
		logger:   cfg.Logger,
		handles:  map[string]Handle{},
	}, nil
}

// Register records a live handle for a task. It replaces any previous handle.
func (r *Registry) Register(taskID string, h Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handles[taskID] = h
}

// Unregister drops the handle for a task. Unknown tasks are a no-op.
func (r *Registry) Unregister(taskID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handles, taskID)
}

// Lookup returns the in-memory handle for a task, if this process owns one.
func (r *Registry) Lookup(taskID string) (Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handles[taskID]
	return h, ok
}

// StopByTask stops a task's sandbox. The in-memory handle is preferred; when
// absent the sandbox is re-resolved from the persisted task record and
// destroyed through the provider type that created it. A sandbox that is
// already gone counts as a successful stop.
func (r *Registry) StopByTask(ctx context.Context, taskID string) error {
	if h, ok := r.Lookup(taskID); ok {
		if h.Cancel != nil {
			h.Cancel()
		}
		if h.Sandbox != nil {
			if err := r.destroy(ctx, h.Sandbox); err != nil {
				return err
			}
		}
		r.Unregister(taskID)
		return nil
	}

	task, err := r.repo.GetTask(ctx, taskID)
	if err != nil {
		return fmt.Errorf("could not get task: %w", err)
	}
	if task.SandboxID == "" {
		return nil
	}

	return r.destroy(ctx, &model.SandboxInstance{
		ID:   task.SandboxID,
		Type: task.SandboxType,
	})
}

func (r *Registry) destroy(ctx context.Context, sandbox *model.SandboxInstance) error {
	prov, err := r.selector.ForType(sandbox.Type)
	if err != nil {
		return fmt.Errorf("no provider for type %q: %w", sandbox.Type, err)
	}

	err = prov.Destroy(ctx, sandbox, r.logger)
	if err != nil && !errors.Is(err, model.ErrNotFound) {
		return fmt.Errorf("could not destroy sandbox %s: %w", sandbox.ID, err)
	}
	if errors.Is(err, model.ErrNotFound) {
		r.logger.Debugf("Sandbox %s already gone", sandbox.ID)
	}
	return nil
}

// Health checks a sandbox with a single no-op command. No retries.
func (r *Registry) Health(ctx context.Context, sandbox *model.SandboxInstance) bool {
	prov, err := r.selector.ForType(sandbox.Type)
	if err != nil {
		return false
	}

	checkCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	res, err := prov.Exec(checkCtx, sandbox, []string{"true"}, model.ExecOpts{})
	return err == nil && res.ExitCode == 0
}
