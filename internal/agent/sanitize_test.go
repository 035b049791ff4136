package agent

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeInstruction(t *testing.T) {
	tests := map[string]struct {
		instruction string
		exp         string
	}{
		"Plain text should pass through": {
			instruction: "add a healthcheck endpoint",
			exp:         "add a healthcheck endpoint",
		},
		"Backticks should become quotes": {
			instruction: "run `rm` on it",
			exp:         "run 'rm' on it",
		},
		"Dollar signs and backslashes should be stripped": {
			instruction: `use $HOME\tmp and $(whoami)`,
			exp:         "use HOMEtmp and (whoami)",
		},
		"Leading dashes should be trimmed": {
			instruction: "--help me refactor",
			exp:         "help me refactor",
		},
		"Long instructions should be capped": {
			instruction: strings.Repeat("a", maxInstructionLen+100),
			exp:         strings.Repeat("a", maxInstructionLen),
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, test.exp, SanitizeInstruction(test.instruction))
		})
	}
}

func TestSessionIDShapes(t *testing.T) {
	tests := map[string]struct {
		id        string
		expUUID   bool
		expOpaque bool
	}{
		"A UUID matches both shapes": {
			id:        "9f36fe2b-469c-4f0e-8df3-fc8ff1b2e297",
			expUUID:   true,
			expOpaque: true,
		},
		"An opaque token is not a UUID": {
			id:        "thread_0199a213",
			expUUID:   false,
			expOpaque: true,
		},
		"Too short is rejected everywhere": {
			id:        "abc",
			expUUID:   false,
			expOpaque: false,
		},
		"Shell metacharacters are rejected everywhere": {
			id:        "abc; rm -rf /tmp/x",
			expUUID:   false,
			expOpaque: false,
		},
		"Empty is rejected everywhere": {
			id:        "",
			expUUID:   false,
			expOpaque: false,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, test.expUUID, isUUIDSession(test.id))
			assert.Equal(t, test.expOpaque, isOpaqueSession(test.id))
		})
	}
}
