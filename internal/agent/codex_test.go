package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseCodexLine(t *testing.T) {
	tests := map[string]struct {
		line string
		exp  streamEvent
	}{
		"A thread start should carry the session id": {
			line: `{"type":"thread.started","thread_id":"thread_0199a213"}`,
			exp:  streamEvent{Kind: eventIgnore, SessionID: "thread_0199a213"},
		},
		"A completed agent message should become text": {
			line: `{"type":"item.completed","item":{"type":"agent_message","text":"patched the handler"}}`,
			exp:  streamEvent{Kind: eventText, Text: "patched the handler\n"},
		},
		"A starting command execution should become a status": {
			line: `{"type":"item.started","item":{"type":"command_execution","command":"go vet ./..."}}`,
			exp:  streamEvent{Kind: eventStatus, Text: "Running `go vet ./...`"},
		},
		"Completed non-message items should be ignored": {
			line: `{"type":"item.completed","item":{"type":"reasoning","text":"thinking"}}`,
			exp:  streamEvent{Kind: eventIgnore},
		},
		"A completed turn should be terminal": {
			line: `{"type":"turn.completed","usage":{"input_tokens":100}}`,
			exp:  streamEvent{Kind: eventTerminal},
		},
		"A failed turn should be a terminal error": {
			line: `{"type":"turn.failed","error":{"message":"context length exceeded"}}`,
			exp:  streamEvent{Kind: eventTerminal, IsError: true, ErrText: "context length exceeded"},
		},
		"A stream error should be a terminal error": {
			line: `{"type":"error","message":"stream disconnected"}`,
			exp:  streamEvent{Kind: eventTerminal, IsError: true, ErrText: "stream disconnected"},
		},
		"Non-JSON lines should be ignored": {
			line: "reading prompt from stdin",
			exp:  streamEvent{Kind: eventIgnore},
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, test.exp, parseCodexLine(test.line))
		})
	}
}

func TestCodexCommand(t *testing.T) {
	t.Run("A valid session should resume by id", func(t *testing.T) {
		argv := codexBackend{}.command(commandParams{Instruction: "go on", SessionID: "thread_0199a213", Resumed: true})
		assert.Equal(t, []string{"codex", "exec", "resume", "thread_0199a213", "--json", "--skip-git-repo-check", "--sandbox", "workspace-write", "go on"}, argv)
	})

	t.Run("A resumed sandbox without a session should resume the last thread", func(t *testing.T) {
		argv := codexBackend{}.command(commandParams{Instruction: "go on", Resumed: true})
		assert.Contains(t, argv, "--last")
	})

	t.Run("A fresh run should not resume", func(t *testing.T) {
		argv := codexBackend{}.command(commandParams{Instruction: "fix it"})
		assert.NotContains(t, argv, "resume")
		assert.Equal(t, "fix it", argv[len(argv)-1])
	})
}
