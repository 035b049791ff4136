package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseGeminiLine(t *testing.T) {
	tests := map[string]struct {
		line string
		exp  streamEvent
	}{
		"An init event should carry the session id": {
			line: `{"type":"init","session_id":"9f36fe2b-469c-4f0e-8df3-fc8ff1b2e297"}`,
			exp:  streamEvent{Kind: eventIgnore, SessionID: "9f36fe2b-469c-4f0e-8df3-fc8ff1b2e297"},
		},
		"An assistant message should become text": {
			line: `{"type":"message","role":"assistant","content":"updated the config"}`,
			exp:  streamEvent{Kind: eventText, Text: "updated the config\n"},
		},
		"A user message should be ignored": {
			line: `{"type":"message","role":"user","content":"tool output"}`,
			exp:  streamEvent{Kind: eventIgnore},
		},
		"A tool call should become a status": {
			line: `{"type":"tool_call","name":"write_file","args":{"path":"a.go"}}`,
			exp:  streamEvent{Kind: eventStatus, Text: "Using `write_file`"},
		},
		"A successful result should be terminal": {
			line: `{"type":"result","status":"success","session_id":"9f36fe2b-469c-4f0e-8df3-fc8ff1b2e297"}`,
			exp:  streamEvent{Kind: eventTerminal, SessionID: "9f36fe2b-469c-4f0e-8df3-fc8ff1b2e297"},
		},
		"A failed result should be a terminal error": {
			line: `{"type":"result","status":"error","error":"quota exhausted"}`,
			exp:  streamEvent{Kind: eventTerminal, IsError: true, ErrText: "quota exhausted"},
		},
		"Non-JSON lines should be ignored": {
			line: "Loaded cached credentials.",
			exp:  streamEvent{Kind: eventIgnore},
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, test.exp, parseGeminiLine(test.line))
		})
	}
}

func TestGeminiFamilyCommands(t *testing.T) {
	t.Run("Gemini and qwen share the flag surface", func(t *testing.T) {
		p := commandParams{Instruction: "do it", Model: "m", Resumed: true}
		gemini := geminiBackend{}.command(p)
		qwen := qwenBackend{}.command(p)

		assert.Equal(t, "gemini", gemini[0])
		assert.Equal(t, "qwen", qwen[0])
		assert.Equal(t, gemini[1:], qwen[1:])
		assert.Contains(t, gemini, "latest")
	})
}
