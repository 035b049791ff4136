package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseClaudeLine(t *testing.T) {
	tests := map[string]struct {
		line string
		exp  streamEvent
	}{
		"An init event should carry the session id": {
			line: `{"type":"system","subtype":"init","session_id":"9f36fe2b-469c-4f0e-8df3-fc8ff1b2e297","tools":[]}`,
			exp:  streamEvent{Kind: eventIgnore, SessionID: "9f36fe2b-469c-4f0e-8df3-fc8ff1b2e297"},
		},
		"Assistant text should become transcript text": {
			line: `{"type":"assistant","message":{"content":[{"type":"text","text":"done reading"}]},"session_id":"abc-123"}`,
			exp:  streamEvent{Kind: eventText, Text: "done reading\n", SessionID: "abc-123"},
		},
		"An edit tool use should render a status line with the path": {
			line: `{"type":"assistant","message":{"content":[{"type":"tool_use","name":"Edit","input":{"file_path":"/src/main.go"}}]}}`,
			exp:  streamEvent{Kind: eventStatus, Text: "Editing `/src/main.go`"},
		},
		"A bash tool use should render the command": {
			line: `{"type":"assistant","message":{"content":[{"type":"tool_use","name":"Bash","input":{"command":"go test ./..."}}]}}`,
			exp:  streamEvent{Kind: eventStatus, Text: "Running `go test ./...`"},
		},
		"A task tool use should flag a subagent": {
			line: `{"type":"assistant","message":{"content":[{"type":"tool_use","name":"Task","input":{"description":"Explore codebase"}}]}}`,
			exp:  streamEvent{Kind: eventStatus, Text: "Delegating `Explore codebase`", SubAgent: "Explore codebase"},
		},
		"An unknown tool should still render a status": {
			line: `{"type":"assistant","message":{"content":[{"type":"tool_use","name":"NotebookEdit","input":{}}]}}`,
			exp:  streamEvent{Kind: eventStatus, Text: "Using NotebookEdit"},
		},
		"A successful result should be terminal with the reply": {
			line: `{"type":"result","is_error":false,"result":"all set","session_id":"xyz-789"}`,
			exp:  streamEvent{Kind: eventTerminal, Text: "all set", SessionID: "xyz-789"},
		},
		"A failed result should be a terminal error": {
			line: `{"type":"result","is_error":true,"result":"rate limited","session_id":"xyz-789"}`,
			exp:  streamEvent{Kind: eventTerminal, IsError: true, ErrText: "rate limited", SessionID: "xyz-789"},
		},
		"Tool results should be ignored": {
			line: `{"type":"user","message":{"content":[{"type":"tool_result","content":"file contents"}]}}`,
			exp:  streamEvent{Kind: eventIgnore},
		},
		"Unknown event types should be ignored": {
			line: `{"type":"telemetry","data":42}`,
			exp:  streamEvent{Kind: eventIgnore},
		},
		"Non-JSON lines should be ignored": {
			line: "npm WARN deprecated something",
			exp:  streamEvent{Kind: eventIgnore},
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, test.exp, parseClaudeLine(test.line))
		})
	}
}

func TestClaudeCommand(t *testing.T) {
	tests := map[string]struct {
		params      commandParams
		expContains []string
		expMissing  []string
	}{
		"A fresh run should not resume anything": {
			params:      commandParams{Instruction: "fix the bug"},
			expContains: []string{"claude", "-p", "fix the bug", "--output-format", "stream-json"},
			expMissing:  []string{"--resume", "--continue"},
		},
		"A valid session should be resumed": {
			params:      commandParams{Instruction: "go on", SessionID: "9f36fe2b-469c-4f0e-8df3-fc8ff1b2e297", Resumed: true},
			expContains: []string{"--resume", "9f36fe2b-469c-4f0e-8df3-fc8ff1b2e297"},
			expMissing:  []string{"--continue"},
		},
		"A resumed sandbox without a session should continue": {
			params:      commandParams{Instruction: "go on", Resumed: true},
			expContains: []string{"--continue"},
			expMissing:  []string{"--resume"},
		},
		"A model should be forwarded": {
			params:      commandParams{Instruction: "x", Model: "claude-sonnet-4-5"},
			expContains: []string{"--model", "claude-sonnet-4-5"},
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			argv := claudeBackend{}.command(test.params)
			for _, want := range test.expContains {
				assert.Contains(t, argv, want)
			}
			for _, unwanted := range test.expMissing {
				assert.NotContains(t, argv, unwanted)
			}
		})
	}
}
