package sqlite_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskmill/taskmill/internal/model"
	"github.com/taskmill/taskmill/internal/storage/sqlite"
)

func newTestRepository(t *testing.T) *sqlite.Repository {
	t.Helper()

	repo, err := sqlite.NewRepository(context.Background(), sqlite.RepositoryConfig{
		DBPath: filepath.Join(t.TempDir(), "taskmill.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	return repo
}

func TestRepositoryTaskRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	task := model.Task{
		ID:        "t1",
		UserID:    "user1",
		Prompt:    "add a health endpoint",
		RepoURL:   "https://example.com/org/repo.git",
		AgentType: model.AgentTypeClaude,
		Model:     "sonnet",
		Status:    model.TaskStatusPending,
	}
	require.NoError(t, repo.CreateTask(ctx, task))

	got, err := repo.GetTask(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "add a health endpoint", got.Prompt)
	assert.Equal(t, model.AgentTypeClaude, got.AgentType)
	assert.Equal(t, model.TaskStatusPending, got.Status)
	assert.False(t, got.CancelRequested)

	// Duplicated inserts fail.
	err = repo.CreateTask(ctx, task)
	assert.True(t, errors.Is(err, model.ErrAlreadyExists))
}

func TestRepositoryTaskUpdate(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	task := model.Task{
		ID: "t1", Prompt: "p", RepoURL: "r",
		AgentType: model.AgentTypeCodex,
		Status:    model.TaskStatusProcessing,
	}
	require.NoError(t, repo.CreateTask(ctx, task))

	status := model.TaskStatusCompleted
	progress := 100
	sessionID := "0199aabb-0000-7000-8000-000000000000"
	pushFailed := true
	require.NoError(t, repo.UpdateTask(ctx, "t1", model.TaskUpdate{
		Status:     &status,
		Progress:   &progress,
		SessionID:  &sessionID,
		PushFailed: &pushFailed,
	}))

	got, err := repo.GetTask(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusCompleted, got.Status)
	assert.Equal(t, 100, got.Progress)
	assert.Equal(t, sessionID, got.SessionID)
	assert.True(t, got.PushFailed)
	assert.Equal(t, "p", got.Prompt)

	err = repo.UpdateTask(ctx, "missing", model.TaskUpdate{Status: &status})
	assert.True(t, errors.Is(err, model.ErrNotFound))
}

func TestRepositoryLogsKeepOrder(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	task := model.Task{ID: "t1", Prompt: "p", RepoURL: "r", AgentType: model.AgentTypeAider, Status: model.TaskStatusProcessing}
	require.NoError(t, repo.CreateTask(ctx, task))

	for _, msg := range []string{"one", "two", "three"} {
		require.NoError(t, repo.AppendLog(ctx, "t1", msg))
	}

	logs, err := repo.ListLogs(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, logs, 3)
	assert.Equal(t, "one", logs[0].Message)
	assert.Equal(t, "three", logs[2].Message)
	assert.Equal(t, 3, logs[2].Sequence)
}

func TestRepositoryMessagesKeepOrder(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	task := model.Task{ID: "t1", Prompt: "p", RepoURL: "r", AgentType: model.AgentTypeGemini, Status: model.TaskStatusProcessing}
	require.NoError(t, repo.CreateTask(ctx, task))

	require.NoError(t, repo.AppendMessage(ctx, "t1", model.MessageRoleUser, "add retries to the client"))
	require.NoError(t, repo.AppendMessage(ctx, "t1", model.MessageRoleAssistant, "added exponential backoff"))

	messages, err := repo.ListMessages(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, model.MessageRoleUser, messages[0].Role)
	assert.Equal(t, "add retries to the client", messages[0].Content)
	assert.Equal(t, model.MessageRoleAssistant, messages[1].Role)
	assert.Equal(t, 2, messages[1].Sequence)
}
