package model

import "fmt"

// ConnectorKind distinguishes local command tool servers from remote endpoints.
type ConnectorKind string

const (
	ConnectorKindLocal  ConnectorKind = "local"
	ConnectorKindRemote ConnectorKind = "remote"
)

// Connector is a configured external tool server an agent backend may call
// during execution. It is consumed read-only by agent executors.
type Connector struct {
	Name string
	Kind ConnectorKind

	// Local connectors.
	Command string
	Args    []string
	Env     map[string]string

	// Remote connectors.
	URL     string
	Headers map[string]string

	// OAuthCredentials are OAuth-style header values. On key collision with
	// Headers the OAuth value wins.
	OAuthCredentials map[string]string
}

// Validate validates the connector.
func (c *Connector) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("connector name is required: %w", ErrNotValid)
	}
	switch c.Kind {
	case ConnectorKindLocal:
		if c.Command == "" {
			return fmt.Errorf("local connector %q requires a command: %w", c.Name, ErrNotValid)
		}
	case ConnectorKindRemote:
		if c.URL == "" {
			return fmt.Errorf("remote connector %q requires a url: %w", c.Name, ErrNotValid)
		}
	default:
		return fmt.Errorf("unknown connector kind %q: %w", string(c.Kind), ErrNotValid)
	}
	return nil
}
