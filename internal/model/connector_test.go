package model_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/taskmill/taskmill/internal/model"
)

func TestConnectorValidate(t *testing.T) {
	tests := map[string]struct {
		connector model.Connector
		expErr    bool
	}{
		"A valid local connector should not fail": {
			connector: model.Connector{
				Name:    "filesystem",
				Kind:    model.ConnectorKindLocal,
				Command: "mcp-fs",
				Args:    []string{"--root", "/workspace"},
			},
			expErr: false,
		},

		"A valid remote connector should not fail": {
			connector: model.Connector{
				Name: "issues",
				Kind: model.ConnectorKindRemote,
				URL:  "https://mcp.example.com/sse",
			},
			expErr: false,
		},

		"Missing name should fail": {
			connector: model.Connector{
				Kind:    model.ConnectorKindLocal,
				Command: "mcp-fs",
			},
			expErr: true,
		},

		"Local connector without command should fail": {
			connector: model.Connector{
				Name: "filesystem",
				Kind: model.ConnectorKindLocal,
			},
			expErr: true,
		},

		"Remote connector without url should fail": {
			connector: model.Connector{
				Name: "issues",
				Kind: model.ConnectorKindRemote,
			},
			expErr: true,
		},

		"Unknown kind should fail": {
			connector: model.Connector{
				Name: "mystery",
				Kind: model.ConnectorKind("telnet"),
			},
			expErr: true,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			err := test.connector.Validate()
			if test.expErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSandboxConfigValidate(t *testing.T) {
	tests := map[string]struct {
		config model.SandboxConfig
		expErr bool
	}{
		"A valid config should not fail": {
			config: model.SandboxConfig{
				TaskID:     "task1",
				RepoURL:    "https://example.com/org/repo.git",
				CloneDepth: 1,
			},
			expErr: false,
		},

		"Missing task id should fail": {
			config: model.SandboxConfig{
				RepoURL: "https://example.com/org/repo.git",
			},
			expErr: true,
		},

		"Missing repo url should fail": {
			config: model.SandboxConfig{
				TaskID: "task1",
			},
			expErr: true,
		},

		"Negative clone depth should fail": {
			config: model.SandboxConfig{
				TaskID:     "task1",
				RepoURL:    "https://example.com/org/repo.git",
				CloneDepth: -1,
			},
			expErr: true,
		},

		"Negative resources should fail": {
			config: model.SandboxConfig{
				TaskID:  "task1",
				RepoURL: "https://example.com/org/repo.git",
				Resources: model.Resources{
					MemoryMB: -10,
				},
			},
			expErr: true,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			err := test.config.Validate()
			if test.expErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
