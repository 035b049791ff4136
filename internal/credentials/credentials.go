// Package credentials resolves per-user API keys for agent backends.
//
// Resolution priority is: explicit per-user key, gateway-proxied key, none.
// Credentials travel as explicit values through the call chain; nothing in
// this package mutates the process environment.
package credentials

import (
	"context"
	"fmt"
	"os"

	"github.com/taskmill/taskmill/internal/model"
)

// Resolver resolves the credentials a user has for an agent backend vendor.
type Resolver interface {
	ResolveKey(ctx context.Context, userID string, provider string) (model.AgentCredentials, error)
}

// EnvResolver resolves credentials from the process environment, keyed by the
// backend vendor's conventional variable name. It is the env-fallback path of
// the resolution chain.
type EnvResolver struct {
	// GatewayURL enables the gateway-proxied path when a TASKMILL_GATEWAY_KEY
	// is present in the environment.
	GatewayURL string
}

// ResolveKey resolves the credentials for a provider from the environment.
func (r EnvResolver) ResolveKey(ctx context.Context, userID string, provider string) (model.AgentCredentials, error) {
	creds := model.AgentCredentials{
		APIKey: os.Getenv(envKeyForProvider(provider)),
	}

	if gw := os.Getenv("TASKMILL_GATEWAY_KEY"); gw != "" && r.GatewayURL != "" {
		creds.GatewayKey = gw
		creds.GatewayURL = r.GatewayURL
	}

	return creds, nil
}

// StaticResolver resolves fixed credentials per provider name. Used in tests
// and single-user setups.
type StaticResolver struct {
	Keys map[string]model.AgentCredentials
}

// ResolveKey resolves the credentials for a provider from the static map.
func (r StaticResolver) ResolveKey(ctx context.Context, userID string, provider string) (model.AgentCredentials, error) {
	creds, ok := r.Keys[provider]
	if !ok {
		return model.AgentCredentials{}, nil
	}
	return creds, nil
}

// ChainResolver tries each resolver in order and returns the first non-empty
// resolution.
type ChainResolver []Resolver

// ResolveKey resolves the credentials through the chain.
func (r ChainResolver) ResolveKey(ctx context.Context, userID string, provider string) (model.AgentCredentials, error) {
	for _, resolver := range r {
		creds, err := resolver.ResolveKey(ctx, userID, provider)
		if err != nil {
			return model.AgentCredentials{}, fmt.Errorf("could not resolve credentials: %w", err)
		}
		if !creds.Empty() {
			return creds, nil
		}
	}

	return model.AgentCredentials{}, nil
}

func envKeyForProvider(provider string) string {
	switch provider {
	case "anthropic":
		return "ANTHROPIC_API_KEY"
	case "openai":
		return "OPENAI_API_KEY"
	case "google":
		return "GEMINI_API_KEY"
	case "opencode":
		return "OPENCODE_API_KEY"
	case "dashscope":
		return "DASHSCOPE_API_KEY"
	}
	return ""
}
