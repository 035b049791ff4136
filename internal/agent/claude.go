package agent

import (
	"encoding/json"
	"fmt"

	"github.com/taskmill/taskmill/internal/model"
)

// claudeBackend drives the Claude Code CLI in `stream-json` mode.
//
// Stream grammar (one JSON object per line):
//   - {"type":"system","subtype":"init","session_id":"uuid",...}
//   - {"type":"assistant","message":{"content":[...]},"session_id":"uuid"}
//   - {"type":"user","message":{...}} (tool results, ignored)
//   - {"type":"result","is_error":false,"result":"...","session_id":"uuid"}
//
// Unknown types and malformed lines are ignored.
type claudeBackend struct{}

func (claudeBackend) kind() model.AgentType { return model.AgentTypeClaude }
func (claudeBackend) binary() string        { return "claude" }

func (claudeBackend) installScript() string {
	return "npm install -g @anthropic-ai/claude-code"
}

func (claudeBackend) env(creds model.AgentCredentials) map[string]string {
	if creds.APIKey != "" {
		return map[string]string{"ANTHROPIC_API_KEY": creds.APIKey}
	}
	return map[string]string{
		"ANTHROPIC_BASE_URL":   creds.GatewayURL,
		"ANTHROPIC_AUTH_TOKEN": creds.GatewayKey,
	}
}

func (claudeBackend) connectorFile(connectors []model.Connector) (string, []byte, error) {
	content, err := renderMCPConfig(connectors)
	if err != nil {
		return "", nil, err
	}
	return ".mcp.json", content, nil
}

func (claudeBackend) command(p commandParams) []string {
	argv := []string{
		"claude", "-p", p.Instruction,
		"--output-format", "stream-json",
		"--verbose",
		"--dangerously-skip-permissions",
	}
	if p.Model != "" {
		argv = append(argv, "--model", p.Model)
	}
	switch {
	case p.SessionID != "":
		argv = append(argv, "--resume", p.SessionID)
	case p.Resumed:
		argv = append(argv, "--continue")
	}
	return argv
}

func (claudeBackend) validSessionID(id string) bool { return isUUIDSession(id) }

func (claudeBackend) parser() parseFunc { return parseClaudeLine }

func parseClaudeLine(line string) streamEvent {
	var raw map[string]any
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return streamEvent{Kind: eventIgnore}
	}
	t, _ := raw["type"].(string)
	sessionID, _ := raw["session_id"].(string)

	switch t {
	case "system":
		if subtype, _ := raw["subtype"].(string); subtype == "init" {
			return streamEvent{Kind: eventIgnore, SessionID: sessionID}
		}
	case "assistant":
		return parseClaudeAssistant(raw, sessionID)
	case "result":
		ev := streamEvent{Kind: eventTerminal, SessionID: sessionID}
		if isErr, _ := raw["is_error"].(bool); isErr {
			ev.IsError = true
			ev.ErrText, _ = raw["result"].(string)
		} else {
			ev.Text, _ = raw["result"].(string)
		}
		return ev
	}
	return streamEvent{Kind: eventIgnore}
}

func parseClaudeAssistant(raw map[string]any, sessionID string) streamEvent {
	message, ok := raw["message"].(map[string]any)
	if !ok {
		return streamEvent{Kind: eventIgnore}
	}
	content, ok := message["content"].([]any)
	if !ok {
		return streamEvent{Kind: eventIgnore}
	}

	for _, c := range content {
		block, _ := c.(map[string]any)
		switch blockType, _ := block["type"].(string); blockType {
		case "text":
			text, _ := block["text"].(string)
			if text != "" {
				return streamEvent{Kind: eventText, Text: text + "\n", SessionID: sessionID}
			}
		case "tool_use":
			name, _ := block["name"].(string)
			input, _ := block["input"].(map[string]any)
			ev := streamEvent{Kind: eventStatus, Text: claudeToolStatus(name, input), SessionID: sessionID}
			// Nested Task invocations justify heartbeat extensions while
			// they run.
			if name == "Task" {
				desc, _ := input["description"].(string)
				if desc == "" {
					desc = "subagent"
				}
				ev.SubAgent = desc
			}
			return ev
		}
	}
	return streamEvent{Kind: eventIgnore, SessionID: sessionID}
}

// claudeToolStatus renders a tool invocation as a short status line.
func claudeToolStatus(name string, input map[string]any) string {
	target := ""
	switch name {
	case "Read", "Write", "Edit":
		target, _ = input["file_path"].(string)
	case "Glob", "Grep":
		target, _ = input["pattern"].(string)
	case "Bash":
		target, _ = input["command"].(string)
	case "Task":
		target, _ = input["description"].(string)
	case "WebFetch":
		target, _ = input["url"].(string)
	}

	verb := map[string]string{
		"Read":     "Reading",
		"Write":    "Writing",
		"Edit":     "Editing",
		"Glob":     "Searching",
		"Grep":     "Searching",
		"Bash":     "Running",
		"Task":     "Delegating",
		"WebFetch": "Fetching",
	}[name]
	if verb == "" {
		verb = "Using " + name
	}

	if target == "" {
		return verb
	}
	if len(target) > 120 {
		target = target[:120] + "..."
	}
	return fmt.Sprintf("%s `%s`", verb, target)
}
