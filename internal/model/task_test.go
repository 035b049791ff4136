package model_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/taskmill/taskmill/internal/model"
)

func TestTaskStatusCanTransitionTo(t *testing.T) {
	tests := map[string]struct {
		from     model.TaskStatus
		to       model.TaskStatus
		expValid bool
	}{
		"Pending can move to processing": {
			from: model.TaskStatusPending, to: model.TaskStatusProcessing, expValid: true,
		},
		"Pending cannot jump to completed": {
			from: model.TaskStatusPending, to: model.TaskStatusCompleted, expValid: false,
		},
		"Processing can complete": {
			from: model.TaskStatusProcessing, to: model.TaskStatusCompleted, expValid: true,
		},
		"Processing can fail": {
			from: model.TaskStatusProcessing, to: model.TaskStatusError, expValid: true,
		},
		"Processing can be stopped": {
			from: model.TaskStatusProcessing, to: model.TaskStatusStopped, expValid: true,
		},
		"Stopped is only reachable from processing": {
			from: model.TaskStatusPending, to: model.TaskStatusStopped, expValid: false,
		},
		"Completed is terminal": {
			from: model.TaskStatusCompleted, to: model.TaskStatusProcessing, expValid: false,
		},
		"Error is terminal": {
			from: model.TaskStatusError, to: model.TaskStatusStopped, expValid: false,
		},
		"Status never moves backwards": {
			from: model.TaskStatusProcessing, to: model.TaskStatusPending, expValid: false,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, test.expValid, test.from.CanTransitionTo(test.to))
		})
	}
}

func TestTaskStatusIsTerminal(t *testing.T) {
	assert.False(t, model.TaskStatusPending.IsTerminal())
	assert.False(t, model.TaskStatusProcessing.IsTerminal())
	assert.True(t, model.TaskStatusCompleted.IsTerminal())
	assert.True(t, model.TaskStatusError.IsTerminal())
	assert.True(t, model.TaskStatusStopped.IsTerminal())
}

func TestTaskValidate(t *testing.T) {
	tests := map[string]struct {
		task   model.Task
		expErr bool
	}{
		"A valid task should not fail": {
			task: model.Task{
				ID:        "task1",
				Prompt:    "fix the flaky test",
				RepoURL:   "https://example.com/org/repo.git",
				AgentType: model.AgentTypeClaude,
			},
			expErr: false,
		},

		"Missing id should fail": {
			task: model.Task{
				Prompt:    "fix the flaky test",
				RepoURL:   "https://example.com/org/repo.git",
				AgentType: model.AgentTypeClaude,
			},
			expErr: true,
		},

		"Missing prompt should fail": {
			task: model.Task{
				ID:        "task1",
				RepoURL:   "https://example.com/org/repo.git",
				AgentType: model.AgentTypeClaude,
			},
			expErr: true,
		},

		"Missing repo url should fail": {
			task: model.Task{
				ID:        "task1",
				Prompt:    "fix the flaky test",
				AgentType: model.AgentTypeClaude,
			},
			expErr: true,
		},

		"Unknown agent type should fail": {
			task: model.Task{
				ID:        "task1",
				Prompt:    "fix the flaky test",
				RepoURL:   "https://example.com/org/repo.git",
				AgentType: model.AgentType("skynet"),
			},
			expErr: true,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			err := test.task.Validate()
			if test.expErr {
				assert.Error(t, err)
				assert.True(t, errors.Is(err, model.ErrNotValid))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
