package model

import (
	"fmt"
	"time"
)

// ProviderType identifies which backend provider created a sandbox.
type ProviderType string

const (
	ProviderTypeDocker ProviderType = "docker"
	ProviderTypeLocal  ProviderType = "local"
	ProviderTypeFake   ProviderType = "fake"
)

// Validate validates the provider type.
func (p ProviderType) Validate() error {
	switch p {
	case ProviderTypeDocker, ProviderTypeLocal, ProviderTypeFake:
		return nil
	}
	return fmt.Errorf("unknown provider type %q: %w", string(p), ErrNotValid)
}

// SandboxInstance is an opaque handle to a live isolated environment. It is
// owned by exactly one task and must be destroyed by the same provider type
// that created it.
type SandboxInstance struct {
	ID        string
	Type      ProviderType
	Domain    string
	WorkDir   string
	Metadata  map[string]string
	CreatedAt time.Time
}

// SandboxConfig is the configuration for creating a sandbox.
type SandboxConfig struct {
	TaskID string

	// RepoURL is the authenticated clone URL. It may embed a short-lived
	// token and must never be logged.
	RepoURL string

	// CloneDepth bounds the git history fetched into the sandbox.
	CloneDepth int

	Image string
	Env   map[string]string

	Resources Resources
}

// Resources defines the compute resources for a sandbox.
type Resources struct {
	VCPUs    float64
	MemoryMB int
}

// Validate validates the sandbox configuration.
func (c *SandboxConfig) Validate() error {
	if c.TaskID == "" {
		return fmt.Errorf("task id is required: %w", ErrNotValid)
	}
	if c.RepoURL == "" {
		return fmt.Errorf("repo url is required: %w", ErrNotValid)
	}
	if c.CloneDepth < 0 {
		return fmt.Errorf("clone depth must not be negative: %w", ErrNotValid)
	}
	if c.Resources.VCPUs < 0 {
		return fmt.Errorf("vcpus must not be negative: %w", ErrNotValid)
	}
	if c.Resources.MemoryMB < 0 {
		return fmt.Errorf("memory_mb must not be negative: %w", ErrNotValid)
	}
	return nil
}

// SandboxResult is the outcome of provisioning a sandbox. Expected failures
// (missing daemon, timeout) are reported here, not raised.
type SandboxResult struct {
	Success   bool
	Cancelled bool
	Sandbox   *SandboxInstance
	Domain    string
	Error     string
}
