package memory_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskmill/taskmill/internal/model"
	"github.com/taskmill/taskmill/internal/storage/memory"
)

func TestRepositoryTasks(t *testing.T) {
	ctx := context.Background()

	t.Run("Creating and getting a task should return a copy", func(t *testing.T) {
		repo, err := memory.NewRepository(memory.RepositoryConfig{})
		require.NoError(t, err)

		task := model.Task{ID: "t1", Prompt: "p", RepoURL: "r", AgentType: model.AgentTypeClaude, Status: model.TaskStatusPending}
		require.NoError(t, repo.CreateTask(ctx, task))

		got, err := repo.GetTask(ctx, "t1")
		require.NoError(t, err)
		got.Prompt = "mutated"

		got2, err := repo.GetTask(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, "p", got2.Prompt)
	})

	t.Run("Creating a duplicated task should fail", func(t *testing.T) {
		repo, err := memory.NewRepository(memory.RepositoryConfig{})
		require.NoError(t, err)

		task := model.Task{ID: "t1", Prompt: "p", RepoURL: "r", AgentType: model.AgentTypeClaude}
		require.NoError(t, repo.CreateTask(ctx, task))
		err = repo.CreateTask(ctx, task)
		assert.True(t, errors.Is(err, model.ErrAlreadyExists))
	})

	t.Run("Getting a missing task should fail with not found", func(t *testing.T) {
		repo, err := memory.NewRepository(memory.RepositoryConfig{})
		require.NoError(t, err)

		_, err = repo.GetTask(ctx, "missing")
		assert.True(t, errors.Is(err, model.ErrNotFound))
	})

	t.Run("Partial updates should only touch set fields", func(t *testing.T) {
		repo, err := memory.NewRepository(memory.RepositoryConfig{})
		require.NoError(t, err)

		task := model.Task{ID: "t1", Prompt: "p", RepoURL: "r", AgentType: model.AgentTypeClaude, Status: model.TaskStatusProcessing, Progress: 10}
		require.NoError(t, repo.CreateTask(ctx, task))

		progress := 55
		branch := "taskmill/fix-tests"
		require.NoError(t, repo.UpdateTask(ctx, "t1", model.TaskUpdate{Progress: &progress, BranchName: &branch}))

		got, err := repo.GetTask(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, 55, got.Progress)
		assert.Equal(t, "taskmill/fix-tests", got.BranchName)
		assert.Equal(t, model.TaskStatusProcessing, got.Status)
		assert.Equal(t, "p", got.Prompt)
	})

	t.Run("Appended logs should keep stream order", func(t *testing.T) {
		repo, err := memory.NewRepository(memory.RepositoryConfig{})
		require.NoError(t, err)

		task := model.Task{ID: "t1", Prompt: "p", RepoURL: "r", AgentType: model.AgentTypeClaude}
		require.NoError(t, repo.CreateTask(ctx, task))

		require.NoError(t, repo.AppendLog(ctx, "t1", "first"))
		require.NoError(t, repo.AppendLog(ctx, "t1", "second"))
		require.NoError(t, repo.AppendLog(ctx, "t1", "third"))

		logs, err := repo.ListLogs(ctx, "t1")
		require.NoError(t, err)
		require.Len(t, logs, 3)
		assert.Equal(t, "first", logs[0].Message)
		assert.Equal(t, "second", logs[1].Message)
		assert.Equal(t, "third", logs[2].Message)
		assert.Equal(t, 1, logs[0].Sequence)
		assert.Equal(t, 3, logs[2].Sequence)
	})

	t.Run("Appended conversation messages should keep order and role", func(t *testing.T) {
		repo, err := memory.NewRepository(memory.RepositoryConfig{})
		require.NoError(t, err)

		task := model.Task{ID: "t1", Prompt: "p", RepoURL: "r", AgentType: model.AgentTypeClaude}
		require.NoError(t, repo.CreateTask(ctx, task))

		require.NoError(t, repo.AppendMessage(ctx, "t1", model.MessageRoleUser, "fix the bug"))
		require.NoError(t, repo.AppendMessage(ctx, "t1", model.MessageRoleAssistant, "fixed it"))

		messages, err := repo.ListMessages(ctx, "t1")
		require.NoError(t, err)
		require.Len(t, messages, 2)
		assert.Equal(t, model.MessageRoleUser, messages[0].Role)
		assert.Equal(t, "fix the bug", messages[0].Content)
		assert.Equal(t, model.MessageRoleAssistant, messages[1].Role)
		assert.Equal(t, "fixed it", messages[1].Content)
		assert.Equal(t, 2, messages[1].Sequence)
	})

	t.Run("Appending a message to a missing task should fail", func(t *testing.T) {
		repo, err := memory.NewRepository(memory.RepositoryConfig{})
		require.NoError(t, err)

		err = repo.AppendMessage(ctx, "missing", model.MessageRoleUser, "hello")
		assert.ErrorIs(t, err, model.ErrNotFound)
	})
}

func TestRepositoryConnectors(t *testing.T) {
	ctx := context.Background()

	repo, err := memory.NewRepository(memory.RepositoryConfig{})
	require.NoError(t, err)

	repo.SetConnectors("user1", []model.Connector{
		{Name: "filesystem", Kind: model.ConnectorKindLocal, Command: "mcp-fs"},
	})

	got, err := repo.ListConnectors(ctx, "user1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "filesystem", got[0].Name)

	empty, err := repo.ListConnectors(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, empty)
}
