package agent

import (
	"encoding/json"

	"github.com/taskmill/taskmill/internal/model"
)

// opencodeBackend drives the OpenCode CLI through `opencode run`.
//
// Stream grammar (one JSON object per line):
//   - {"type":"session","id":"..."}
//   - {"type":"text","text":"..."}
//   - {"type":"tool","name":"...","input":{...}}
//   - {"type":"error","message":"..."}
//   - {"type":"done"}
type opencodeBackend struct{}

func (opencodeBackend) kind() model.AgentType { return model.AgentTypeOpenCode }
func (opencodeBackend) binary() string        { return "opencode" }

func (opencodeBackend) installScript() string {
	return "npm install -g opencode-ai"
}

func (opencodeBackend) env(creds model.AgentCredentials) map[string]string {
	if creds.APIKey != "" {
		return map[string]string{"OPENCODE_API_KEY": creds.APIKey}
	}
	return map[string]string{
		"OPENCODE_BASE_URL": creds.GatewayURL,
		"OPENCODE_API_KEY":  creds.GatewayKey,
	}
}

// connectorFile reports no connector support: opencode reads MCP servers from
// its global config, which is not sandbox-scoped.
func (opencodeBackend) connectorFile([]model.Connector) (string, []byte, error) {
	return "", nil, nil
}

func (opencodeBackend) command(p commandParams) []string {
	argv := []string{"opencode", "run", p.Instruction, "--print-logs", "--format", "json"}
	if p.Model != "" {
		argv = append(argv, "--model", p.Model)
	}
	switch {
	case p.SessionID != "":
		argv = append(argv, "--session", p.SessionID)
	case p.Resumed:
		argv = append(argv, "--continue")
	}
	return argv
}

func (opencodeBackend) validSessionID(id string) bool { return isOpaqueSession(id) }

func (opencodeBackend) parser() parseFunc { return parseOpencodeLine }

func parseOpencodeLine(line string) streamEvent {
	var raw struct {
		Type    string `json:"type"`
		ID      string `json:"id"`
		Text    string `json:"text"`
		Name    string `json:"name"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return streamEvent{Kind: eventIgnore}
	}

	switch raw.Type {
	case "session":
		return streamEvent{Kind: eventIgnore, SessionID: raw.ID}
	case "text":
		if raw.Text != "" {
			return streamEvent{Kind: eventText, Text: raw.Text}
		}
	case "tool":
		if raw.Name != "" {
			return streamEvent{Kind: eventStatus, Text: "Using `" + raw.Name + "`"}
		}
	case "error":
		return streamEvent{Kind: eventTerminal, IsError: true, ErrText: raw.Message}
	case "done":
		return streamEvent{Kind: eventTerminal}
	}
	return streamEvent{Kind: eventIgnore}
}
