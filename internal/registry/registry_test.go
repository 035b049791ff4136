package registry_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskmill/taskmill/internal/model"
	"github.com/taskmill/taskmill/internal/provider"
	"github.com/taskmill/taskmill/internal/provider/fake"
	"github.com/taskmill/taskmill/internal/registry"
	"github.com/taskmill/taskmill/internal/storage/memory"
)

func newRegistry(t *testing.T) (*registry.Registry, *fake.Provider, *memory.Repository) {
	t.Helper()

	p, err := fake.NewProvider(fake.ProviderConfig{})
	require.NoError(t, err)

	repo, err := memory.NewRepository(memory.RepositoryConfig{})
	require.NoError(t, err)

	reg, err := registry.NewRegistry(registry.RegistryConfig{
		Repo:     repo,
		Selector: provider.StaticSelector{model.ProviderTypeFake: p},
	})
	require.NoError(t, err)

	return reg, p, repo
}

func createSandbox(t *testing.T, p *fake.Provider) *model.SandboxInstance {
	t.Helper()
	res, err := p.Create(context.Background(), model.SandboxConfig{
		TaskID:     "t1",
		RepoURL:    "https://example.com/org/repo.git",
		CloneDepth: 1,
	}, provider.CreateOpts{}, nil)
	require.NoError(t, err)
	require.True(t, res.Success)
	return res.Sandbox
}

func TestStopByTask(t *testing.T) {
	ctx := context.Background()

	t.Run("An in-memory handle should cancel and destroy", func(t *testing.T) {
		reg, p, _ := newRegistry(t)
		sandbox := createSandbox(t, p)

		var cancelled bool
		reg.Register("t1", registry.Handle{
			Sandbox: sandbox,
			Cancel:  func() { cancelled = true },
		})

		require.NoError(t, reg.StopByTask(ctx, "t1"))

		assert.True(t, cancelled)
		assert.Empty(t, p.LiveSandboxes())
		_, ok := reg.Lookup("t1")
		assert.False(t, ok)
	})

	t.Run("Without a handle the sandbox should resolve from storage", func(t *testing.T) {
		reg, p, repo := newRegistry(t)
		sandbox := createSandbox(t, p)

		require.NoError(t, repo.CreateTask(ctx, model.Task{
			ID:          "t1",
			Prompt:      "p",
			RepoURL:     "https://example.com/org/repo.git",
			AgentType:   model.AgentTypeClaude,
			Status:      model.TaskStatusProcessing,
			SandboxID:   sandbox.ID,
			SandboxType: model.ProviderTypeFake,
		}))

		require.NoError(t, reg.StopByTask(ctx, "t1"))
		assert.Empty(t, p.LiveSandboxes())
	})

	t.Run("A task without a sandbox should stop cleanly", func(t *testing.T) {
		reg, _, repo := newRegistry(t)

		require.NoError(t, repo.CreateTask(ctx, model.Task{
			ID:        "t2",
			Prompt:    "p",
			RepoURL:   "https://example.com/org/repo.git",
			AgentType: model.AgentTypeClaude,
			Status:    model.TaskStatusPending,
		}))

		assert.NoError(t, reg.StopByTask(ctx, "t2"))
	})

	t.Run("An already destroyed sandbox should count as stopped", func(t *testing.T) {
		reg, p, repo := newRegistry(t)
		sandbox := createSandbox(t, p)
		require.NoError(t, p.Destroy(ctx, sandbox, nil))

		require.NoError(t, repo.CreateTask(ctx, model.Task{
			ID:          "t3",
			Prompt:      "p",
			RepoURL:     "https://example.com/org/repo.git",
			AgentType:   model.AgentTypeClaude,
			Status:      model.TaskStatusProcessing,
			SandboxID:   sandbox.ID,
			SandboxType: model.ProviderTypeFake,
		}))

		assert.NoError(t, reg.StopByTask(ctx, "t3"))
	})

	t.Run("An unknown task should error", func(t *testing.T) {
		reg, _, _ := newRegistry(t)
		assert.ErrorIs(t, reg.StopByTask(ctx, "missing"), model.ErrNotFound)
	})
}

func TestHealth(t *testing.T) {
	ctx := context.Background()

	t.Run("A live sandbox should be healthy", func(t *testing.T) {
		reg, p, _ := newRegistry(t)
		sandbox := createSandbox(t, p)

		assert.True(t, reg.Health(ctx, sandbox))
	})

	t.Run("A destroyed sandbox should be unhealthy", func(t *testing.T) {
		reg, p, _ := newRegistry(t)
		sandbox := createSandbox(t, p)
		require.NoError(t, p.Destroy(ctx, sandbox, nil))

		assert.False(t, reg.Health(ctx, sandbox))
	})
}
