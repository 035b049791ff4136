package agent

import (
	"encoding/json"

	"github.com/taskmill/taskmill/internal/model"
)

// codexBackend drives the Codex CLI through `codex exec --json`.
//
// Stream grammar (one JSON object per line):
//   - {"type":"thread.started","thread_id":"..."}
//   - {"type":"item.started","item":{"type":"command_execution","command":"..."}}
//   - {"type":"item.completed","item":{"type":"agent_message","text":"..."}}
//   - {"type":"turn.completed","usage":{...}}
//   - {"type":"turn.failed","error":{"message":"..."}}
//   - {"type":"error","message":"..."}
type codexBackend struct{}

func (codexBackend) kind() model.AgentType { return model.AgentTypeCodex }
func (codexBackend) binary() string        { return "codex" }

func (codexBackend) installScript() string {
	return "npm install -g @openai/codex"
}

func (codexBackend) env(creds model.AgentCredentials) map[string]string {
	if creds.APIKey != "" {
		return map[string]string{"OPENAI_API_KEY": creds.APIKey}
	}
	return map[string]string{
		"OPENAI_BASE_URL": creds.GatewayURL,
		"OPENAI_API_KEY":  creds.GatewayKey,
	}
}

// connectorFile reports no connector support: codex configures MCP servers
// through its own config management, not a project file.
func (codexBackend) connectorFile([]model.Connector) (string, []byte, error) {
	return "", nil, nil
}

func (codexBackend) command(p commandParams) []string {
	argv := []string{"codex", "exec"}
	switch {
	case p.SessionID != "":
		argv = append(argv, "resume", p.SessionID)
	case p.Resumed:
		argv = append(argv, "resume", "--last")
	}
	argv = append(argv, "--json", "--skip-git-repo-check", "--sandbox", "workspace-write")
	if p.Model != "" {
		argv = append(argv, "--model", p.Model)
	}
	return append(argv, p.Instruction)
}

func (codexBackend) validSessionID(id string) bool { return isOpaqueSession(id) }

func (codexBackend) parser() parseFunc { return parseCodexLine }

func parseCodexLine(line string) streamEvent {
	var raw struct {
		Type     string `json:"type"`
		ThreadID string `json:"thread_id"`
		Message  string `json:"message"`
		Item     struct {
			Type    string `json:"type"`
			Text    string `json:"text"`
			Command string `json:"command"`
		} `json:"item"`
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return streamEvent{Kind: eventIgnore}
	}

	switch raw.Type {
	case "thread.started":
		return streamEvent{Kind: eventIgnore, SessionID: raw.ThreadID}
	case "item.started":
		if raw.Item.Type == "command_execution" && raw.Item.Command != "" {
			cmd := raw.Item.Command
			if len(cmd) > 120 {
				cmd = cmd[:120] + "..."
			}
			return streamEvent{Kind: eventStatus, Text: "Running `" + cmd + "`"}
		}
	case "item.completed":
		if raw.Item.Type == "agent_message" && raw.Item.Text != "" {
			return streamEvent{Kind: eventText, Text: raw.Item.Text + "\n"}
		}
	case "turn.completed":
		return streamEvent{Kind: eventTerminal}
	case "turn.failed":
		return streamEvent{Kind: eventTerminal, IsError: true, ErrText: raw.Error.Message}
	case "error":
		return streamEvent{Kind: eventTerminal, IsError: true, ErrText: raw.Message}
	}
	return streamEvent{Kind: eventIgnore}
}
