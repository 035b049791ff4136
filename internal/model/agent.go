package model

import "fmt"

// AgentType identifies one of the interchangeable agent CLI backends.
type AgentType string

const (
	AgentTypeClaude   AgentType = "claude"
	AgentTypeCodex    AgentType = "codex"
	AgentTypeGemini   AgentType = "gemini"
	AgentTypeOpenCode AgentType = "opencode"
	AgentTypeAider    AgentType = "aider"
	AgentTypeQwen     AgentType = "qwen"
)

// AgentTypes returns all supported agent backends.
func AgentTypes() []AgentType {
	return []AgentType{
		AgentTypeClaude,
		AgentTypeCodex,
		AgentTypeGemini,
		AgentTypeOpenCode,
		AgentTypeAider,
		AgentTypeQwen,
	}
}

// Vendor returns the credential vendor name for the backend.
func (a AgentType) Vendor() string {
	switch a {
	case AgentTypeClaude:
		return "anthropic"
	case AgentTypeCodex:
		return "openai"
	case AgentTypeGemini:
		return "google"
	case AgentTypeOpenCode:
		return "opencode"
	case AgentTypeAider:
		return "openai"
	case AgentTypeQwen:
		return "dashscope"
	}
	return ""
}

// Validate validates the agent type.
func (a AgentType) Validate() error {
	for _, t := range AgentTypes() {
		if a == t {
			return nil
		}
	}
	return fmt.Errorf("unknown agent type %q: %w", string(a), ErrNotValid)
}

// AgentExecutionResult is the uniform output of any agent executor.
//
// ChangesDetected is derived from a post-execution working-tree check, never
// from the backend's self-reported status.
type AgentExecutionResult struct {
	Success         bool
	Output          string
	Reply           string
	AgentType       AgentType
	ChangesDetected bool
	Error           string
	SessionID       string
}

// AgentCredentials are the resolved credentials for one agent execution.
// Explicit per-user keys take priority over gateway-proxied keys.
type AgentCredentials struct {
	// APIKey is an explicit per-user key for the backend's vendor.
	APIKey string
	// GatewayKey authenticates against a key-proxying gateway.
	GatewayKey string
	// GatewayURL is the base URL of the gateway, required with GatewayKey.
	GatewayURL string
}

// Empty returns true when no credential resolves at all.
func (c AgentCredentials) Empty() bool {
	return c.APIKey == "" && c.GatewayKey == ""
}
