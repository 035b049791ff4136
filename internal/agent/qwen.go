package agent

import "github.com/taskmill/taskmill/internal/model"

// qwenBackend drives the Qwen Code CLI. It is a Gemini CLI fork and shares
// its stream grammar and flag surface, only the binary, install source and
// credentials differ.
type qwenBackend struct{}

func (qwenBackend) kind() model.AgentType { return model.AgentTypeQwen }
func (qwenBackend) binary() string        { return "qwen" }

func (qwenBackend) installScript() string {
	return "npm install -g @qwen-code/qwen-code"
}

func (qwenBackend) env(creds model.AgentCredentials) map[string]string {
	if creds.APIKey != "" {
		return map[string]string{"DASHSCOPE_API_KEY": creds.APIKey}
	}
	return map[string]string{
		"OPENAI_BASE_URL": creds.GatewayURL,
		"OPENAI_API_KEY":  creds.GatewayKey,
	}
}

func (qwenBackend) connectorFile(connectors []model.Connector) (string, []byte, error) {
	content, err := renderMCPConfig(connectors)
	if err != nil {
		return "", nil, err
	}
	return ".qwen/settings.json", content, nil
}

func (qwenBackend) command(p commandParams) []string {
	argv := []string{
		"qwen", "--prompt", p.Instruction,
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

func (qwenBackend) validSessionID(id string) bool { return isUUIDSession(id) }

func (qwenBackend) parser() parseFunc { return parseGeminiLine }
