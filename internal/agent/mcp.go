package agent

import (
	"encoding/json"
	"fmt"

	"github.com/taskmill/taskmill/internal/model"
)

// mcpServer is one server entry in an MCP configuration file. Local and
// remote connectors use disjoint field sets.
type mcpServer struct {
	Command string            `json:"command,omitempty"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`

	Type    string            `json:"type,omitempty"`
	URL     string            `json:"url,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

// renderMCPConfig serializes connectors into the `mcpServers` JSON shape
// shared by the MCP-capable CLIs. Invalid connectors fail the whole render,
// a half-configured toolset is worse than none.
func renderMCPConfig(connectors []model.Connector) ([]byte, error) {
	servers := map[string]mcpServer{}
	for i := range connectors {
		c := &connectors[i]
		if err := c.Validate(); err != nil {
			return nil, fmt.Errorf("invalid connector: %w", err)
		}

		switch c.Kind {
		case model.ConnectorKindLocal:
			servers[c.Name] = mcpServer{
				Command: c.Command,
				Args:    c.Args,
				Env:     c.Env,
			}
		case model.ConnectorKindRemote:
			servers[c.Name] = mcpServer{
				Type:    "http",
				URL:     c.URL,
				Headers: mergeHeaders(c.Headers, c.OAuthCredentials),
			}
		}
	}

	return json.MarshalIndent(map[string]any{"mcpServers": servers}, "", "  ")
}

// mergeHeaders combines static headers with OAuth header values. OAuth wins
// on collision.
func mergeHeaders(headers, oauth map[string]string) map[string]string {
	if len(headers) == 0 && len(oauth) == 0 {
		return nil
	}
	merged := make(map[string]string, len(headers)+len(oauth))
	for k, v := range headers {
		merged[k] = v
	}
	for k, v := range oauth {
		merged[k] = v
	}
	return merged
}
