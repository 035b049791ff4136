package agent

import "github.com/taskmill/taskmill/internal/model"

// aiderBackend drives aider. It has no structured stream: everything it
// prints is treated as assistant text, and completion comes from process
// exit rather than a terminal event.
type aiderBackend struct{}

func (aiderBackend) kind() model.AgentType { return model.AgentTypeAider }
func (aiderBackend) binary() string        { return "aider" }

func (aiderBackend) installScript() string {
	return "python3 -m pip install --break-system-packages aider-install && aider-install"
}

func (aiderBackend) env(creds model.AgentCredentials) map[string]string {
	if creds.APIKey != "" {
		return map[string]string{"OPENAI_API_KEY": creds.APIKey}
	}
	return map[string]string{
		"OPENAI_API_BASE": creds.GatewayURL,
		"OPENAI_API_KEY":  creds.GatewayKey,
	}
}

// connectorFile reports no connector support, aider has no MCP client.
func (aiderBackend) connectorFile([]model.Connector) (string, []byte, error) {
	return "", nil, nil
}

func (aiderBackend) command(p commandParams) []string {
	argv := []string{
		"aider",
		"--yes-always",
		"--no-gitignore",
		"--no-auto-commits",
		"--message", p.Instruction,
	}
	if p.Model != "" {
		argv = append(argv, "--model", p.Model)
	}
	if p.Resumed {
		argv = append(argv, "--restore-chat-history")
	}
	return argv
}

// validSessionID always rejects: aider keeps no resumable session ids, its
// chat history lives in the working tree.
func (aiderBackend) validSessionID(string) bool { return false }

func (aiderBackend) parser() parseFunc { return parseAiderLine }

func parseAiderLine(line string) streamEvent {
	return streamEvent{Kind: eventText, Text: line + "\n"}
}
