// Package provider defines the sandbox provider adapter contract.
//
// A provider creates isolated environments with a cloned repository inside,
// executes commands in them, and destroys them. Expected failures (missing
// daemon, provisioning timeout) are reported in results, never raised past
// this boundary.
package provider

import (
	"context"

	"github.com/taskmill/taskmill/internal/log"
	"github.com/taskmill/taskmill/internal/model"
)

// CancelCheck reports whether the caller has requested cancellation. It is
// polled between provisioning steps; cancellation is cooperative.
type CancelCheck func(ctx context.Context) bool

// CreateOpts carries the cross-cutting options of a create call.
type CreateOpts struct {
	// CancelCheck is polled between internal steps. Nil means never cancelled.
	CancelCheck CancelCheck
	// OnProgress receives human-readable step descriptions.
	OnProgress func(step string)
}

// Provider is the interface for sandbox backend adapters.
//
// Destroy is idempotent: destroying an already-gone sandbox succeeds. A
// sandbox must be destroyed by the same provider type that created it.
type Provider interface {
	Type() model.ProviderType

	// Create provisions a sandbox and clones the configured repository into
	// its work dir. On any failure or cancellation it cleans up everything it
	// partially created before returning.
	Create(ctx context.Context, cfg model.SandboxConfig, opts CreateOpts, logger log.Logger) (*model.SandboxResult, error)

	// Exec runs a single command inside the sandbox, streaming output through
	// the sinks in opts. This is the atomic primitive everything builds on.
	Exec(ctx context.Context, sandbox *model.SandboxInstance, command []string, opts model.ExecOpts) (*model.ExecResult, error)

	// Destroy releases the sandbox and all its resources.
	Destroy(ctx context.Context, sandbox *model.SandboxInstance, logger log.Logger) error
}

// Snapshotter is an optional provider capability for checkpointing a sandbox
// workspace and recreating it later. Providers without it simply don't
// implement the interface; callers type-assert.
type Snapshotter interface {
	Snapshot(ctx context.Context, sandbox *model.SandboxInstance, snapshotID string) error
	Restore(ctx context.Context, snapshotID string) (*model.SandboxInstance, error)
}

// Selector resolves a provider by its declared type. Sandboxes reconnected
// from persisted state are destroyed through the provider type that created
// them, never cross-provider.
type Selector interface {
	ForType(t model.ProviderType) (Provider, error)
}

// StaticSelector is a Selector over a fixed provider set.
type StaticSelector map[model.ProviderType]Provider

// ForType returns the provider registered for the type.
func (s StaticSelector) ForType(t model.ProviderType) (Provider, error) {
	p, ok := s[t]
	if !ok {
		return nil, model.ErrNotFound
	}
	return p, nil
}
