// Package detect chooses a dependency-install strategy for a cloned
// repository by probing its manifest files inside the sandbox.
package detect

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/taskmill/taskmill/internal/log"
	"github.com/taskmill/taskmill/internal/model"
	"github.com/taskmill/taskmill/internal/runner"
)

// ProjectKind is the detected project environment.
type ProjectKind string

const (
	KindUnknown ProjectKind = "unknown"
	KindNode    ProjectKind = "node"
	KindPython  ProjectKind = "python"
	KindGo      ProjectKind = "go"
	KindRust    ProjectKind = "rust"
)

// InstallTimeout bounds the dependency install step. Installs that exceed it
// are abandoned, not fatal.
const InstallTimeout = 3 * time.Minute

// Environment is the result of a detection pass.
type Environment struct {
	Kind ProjectKind
	// PackageManager is the concrete tool chosen (npm, pnpm, yarn, bun,
	// pip, uv, go, cargo). Empty for unknown kinds.
	PackageManager string
	// InstallCommand is the shell command that installs dependencies.
	// Empty when there is nothing to install.
	InstallCommand string
}

// DetectorConfig is the configuration for the detector.
type DetectorConfig struct {
	Runner *runner.Runner
	Logger log.Logger
}

func (c *DetectorConfig) defaults() error {
	if c.Runner == nil {
		return fmt.Errorf("runner is required")
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "detect.Detector"})
	return nil
}

// Detector probes a sandbox work tree for known project manifests.
type Detector struct {
	runner *runner.Runner
	logger log.Logger
}

// NewDetector creates a new detector.
func NewDetector(cfg DetectorConfig) (*Detector, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Detector{
		runner: cfg.Runner,
		logger: cfg.Logger,
	}, nil
}

// probe maps a manifest file to the environment it selects. Order matters:
// lockfiles take priority over generic manifests.
type probe struct {
	file string
	env  Environment
}

var probes = []probe{
	{"bun.lockb", Environment{Kind: KindNode, PackageManager: "bun", InstallCommand: "bun install"}},
	{"pnpm-lock.yaml", Environment{Kind: KindNode, PackageManager: "pnpm", InstallCommand: "pnpm install --frozen-lockfile"}},
	{"yarn.lock", Environment{Kind: KindNode, PackageManager: "yarn", InstallCommand: "yarn install --frozen-lockfile"}},
	{"package-lock.json", Environment{Kind: KindNode, PackageManager: "npm", InstallCommand: "npm ci"}},
	{"package.json", Environment{Kind: KindNode, PackageManager: "npm", InstallCommand: "npm install"}},
	{"uv.lock", Environment{Kind: KindPython, PackageManager: "uv", InstallCommand: "uv sync"}},
	{"pyproject.toml", Environment{Kind: KindPython, PackageManager: "pip", InstallCommand: "pip install -e ."}},
	{"requirements.txt", Environment{Kind: KindPython, PackageManager: "pip", InstallCommand: "pip install -r requirements.txt"}},
	{"go.mod", Environment{Kind: KindGo, PackageManager: "go", InstallCommand: "go mod download"}},
	{"Cargo.toml", Environment{Kind: KindRust, PackageManager: "cargo", InstallCommand: "cargo fetch"}},
}

// Detect probes the sandbox work tree. Probe failures degrade to unknown,
// they never error: detection is best-effort by contract.
func (d *Detector) Detect(ctx context.Context, sandbox *model.SandboxInstance) Environment {
	for _, p := range probes {
		exists, err := d.fileExists(ctx, sandbox, p.file)
		if err != nil {
			d.logger.Debugf("Probe for %s failed: %v", p.file, err)
			return Environment{Kind: KindUnknown}
		}
		if exists {
			d.logger.Debugf("Detected %s project via %s", p.env.Kind, p.file)
			return p.env
		}
	}

	return Environment{Kind: KindUnknown}
}

// Install runs the environment's install command with the install timeout.
// Failures are reported but callers must treat them as non-fatal.
func (d *Detector) Install(ctx context.Context, sandbox *model.SandboxInstance, env Environment) error {
	if env.InstallCommand == "" {
		return nil
	}

	var errOut strings.Builder
	res, err := d.runner.RunShell(ctx, sandbox, env.InstallCommand, model.ExecOpts{Stderr: &errOut}, InstallTimeout)
	if err != nil {
		return fmt.Errorf("dependency install did not finish: %w", err)
	}
	if res.ExitCode != 0 {
		d.logger.Debugf("Install command failed (exit %d): %s", res.ExitCode, errOut.String())
		return fmt.Errorf("dependency install failed with exit code %d", res.ExitCode)
	}

	return nil
}

func (d *Detector) fileExists(ctx context.Context, sandbox *model.SandboxInstance, name string) (bool, error) {
	res, err := d.runner.Run(ctx, sandbox, []string{"test", "-f", name}, model.ExecOpts{}, 30*time.Second)
	if err != nil {
		return false, err
	}
	return res.ExitCode == 0, nil
}
