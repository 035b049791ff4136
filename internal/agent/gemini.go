package agent

import (
	"encoding/json"

	"github.com/taskmill/taskmill/internal/model"
)

// geminiBackend drives the Gemini CLI in `stream-json` output mode.
//
// Stream grammar (one JSON object per line):
//   - {"type":"init","session_id":"uuid"}
//   - {"type":"message","role":"assistant","content":"..."}
//   - {"type":"tool_call","name":"...","args":{...}}
//   - {"type":"result","status":"success"|"error","error":"...","session_id":"uuid"}
type geminiBackend struct{}

func (geminiBackend) kind() model.AgentType { return model.AgentTypeGemini }
func (geminiBackend) binary() string        { return "gemini" }

func (geminiBackend) installScript() string {
	return "npm install -g @google/gemini-cli"
}

func (geminiBackend) env(creds model.AgentCredentials) map[string]string {
	if creds.APIKey != "" {
		return map[string]string{"GEMINI_API_KEY": creds.APIKey}
	}
	return map[string]string{
		"GOOGLE_GEMINI_BASE_URL": creds.GatewayURL,
		"GEMINI_API_KEY":         creds.GatewayKey,
	}
}

func (geminiBackend) connectorFile(connectors []model.Connector) (string, []byte, error) {
	content, err := renderMCPConfig(connectors)
	if err != nil {
		return "", nil, err
	}
	return ".gemini/settings.json", content, nil
}

func (geminiBackend) command(p commandParams) []string {
	argv := []string{
		"gemini", "--prompt", p.Instruction,
		"--output-format", "stream-json",
		"--yolo",
	}
	if p.Model != "" {
		argv = append(argv, "--model", p.Model)
	}
	switch {
	case p.SessionID != "":
		argv = append(argv, "--resume", p.SessionID)
	case p.Resumed:
		argv = append(argv, "--resume", "latest")
	}
	return argv
}

func (geminiBackend) validSessionID(id string) bool { return isUUIDSession(id) }

func (geminiBackend) parser() parseFunc { return parseGeminiLine }

func parseGeminiLine(line string) streamEvent {
	var raw struct {
		Type      string         `json:"type"`
		Role      string         `json:"role"`
		Content   string         `json:"content"`
		Name      string         `json:"name"`
		Args      map[string]any `json:"args"`
		Status    string         `json:"status"`
		Error     string         `json:"error"`
		SessionID string         `json:"session_id"`
	}
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return streamEvent{Kind: eventIgnore}
	}

	switch raw.Type {
	case "init":
		return streamEvent{Kind: eventIgnore, SessionID: raw.SessionID}
	case "message":
		if raw.Role == "assistant" && raw.Content != "" {
			return streamEvent{Kind: eventText, Text: raw.Content + "\n", SessionID: raw.SessionID}
		}
	case "tool_call":
		if raw.Name != "" {
			return streamEvent{Kind: eventStatus, Text: "Using `" + raw.Name + "`"}
		}
	case "result":
		ev := streamEvent{Kind: eventTerminal, SessionID: raw.SessionID}
		if raw.Status == "error" {
			ev.IsError = true
			ev.ErrText = raw.Error
		}
		return ev
	}
	return streamEvent{Kind: eventIgnore}
}
