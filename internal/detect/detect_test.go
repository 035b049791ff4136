package detect_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskmill/taskmill/internal/detect"
	"github.com/taskmill/taskmill/internal/model"
	"github.com/taskmill/taskmill/internal/provider"
	"github.com/taskmill/taskmill/internal/provider/fake"
	"github.com/taskmill/taskmill/internal/runner"
)

// newDetector wires a detector over a fake provider whose sandbox contains
// exactly the given files.
func newDetector(t *testing.T, files ...string) (*detect.Detector, *model.SandboxInstance, *fake.Provider) {
	t.Helper()

	present := map[string]bool{}
	for _, f := range files {
		present[f] = true
	}

	p, err := fake.NewProvider(fake.ProviderConfig{
		ExecHandler: func(ctx context.Context, sandbox *model.SandboxInstance, command []string, opts model.ExecOpts) (*model.ExecResult, error) {
			if len(command) == 3 && command[0] == "test" && command[1] == "-f" {
				if present[command[2]] {
					return &model.ExecResult{ExitCode: 0}, nil
				}
				return &model.ExecResult{ExitCode: 1}, nil
			}
			return nil, nil
		},
	})
	require.NoError(t, err)

	res, err := p.Create(context.Background(), model.SandboxConfig{TaskID: "t1", RepoURL: "r"}, provider.CreateOpts{}, nil)
	require.NoError(t, err)

	r, err := runner.NewRunner(runner.RunnerConfig{Provider: p})
	require.NoError(t, err)
	d, err := detect.NewDetector(detect.DetectorConfig{Runner: r})
	require.NoError(t, err)

	return d, res.Sandbox, p
}

func TestDetectorDetect(t *testing.T) {
	tests := map[string]struct {
		files      []string
		expKind    detect.ProjectKind
		expManager string
	}{
		"A pnpm lockfile should win over package.json": {
			files:      []string{"package.json", "pnpm-lock.yaml"},
			expKind:    detect.KindNode,
			expManager: "pnpm",
		},
		"A plain package.json should pick npm install": {
			files:      []string{"package.json"},
			expKind:    detect.KindNode,
			expManager: "npm",
		},
		"A package-lock should pick npm ci": {
			files:      []string{"package.json", "package-lock.json"},
			expKind:    detect.KindNode,
			expManager: "npm",
		},
		"A requirements file should pick pip": {
			files:      []string{"requirements.txt"},
			expKind:    detect.KindPython,
			expManager: "pip",
		},
		"A uv lockfile should win over requirements": {
			files:      []string{"uv.lock", "requirements.txt"},
			expKind:    detect.KindPython,
			expManager: "uv",
		},
		"A go.mod should pick the go tool": {
			files:      []string{"go.mod"},
			expKind:    detect.KindGo,
			expManager: "go",
		},
		"No manifests should degrade to unknown": {
			files:   nil,
			expKind: detect.KindUnknown,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			d, sandbox, _ := newDetector(t, test.files...)

			env := d.Detect(context.Background(), sandbox)
			assert.Equal(t, test.expKind, env.Kind)
			assert.Equal(t, test.expManager, env.PackageManager)
		})
	}
}

func TestDetectorInstall(t *testing.T) {
	t.Run("Unknown environments should install nothing", func(t *testing.T) {
		d, sandbox, p := newDetector(t)

		err := d.Install(context.Background(), sandbox, detect.Environment{Kind: detect.KindUnknown})
		require.NoError(t, err)
		// Only create happened, no install exec.
		for _, call := range p.ExecCalls() {
			assert.NotContains(t, call, "npm")
		}
	})

	t.Run("A failing install should report the failure", func(t *testing.T) {
		p, err := fake.NewProvider(fake.ProviderConfig{
			ExecHandler: func(ctx context.Context, sandbox *model.SandboxInstance, command []string, opts model.ExecOpts) (*model.ExecResult, error) {
				return &model.ExecResult{ExitCode: 1}, nil
			},
		})
		require.NoError(t, err)
		res, err := p.Create(context.Background(), model.SandboxConfig{TaskID: "t1", RepoURL: "r"}, provider.CreateOpts{}, nil)
		require.NoError(t, err)
		r, err := runner.NewRunner(runner.RunnerConfig{Provider: p})
		require.NoError(t, err)
		d, err := detect.NewDetector(detect.DetectorConfig{Runner: r})
		require.NoError(t, err)

		err = d.Install(context.Background(), res.Sandbox, detect.Environment{
			Kind: detect.KindNode, PackageManager: "npm", InstallCommand: "npm ci",
		})
		assert.Error(t, err)
	})
}
