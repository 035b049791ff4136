package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseOpencodeLine(t *testing.T) {
	tests := map[string]struct {
		line string
		exp  streamEvent
	}{
		"A session event should carry the id": {
			line: `{"type":"session","id":"ses_01jcd9"}`,
			exp:  streamEvent{Kind: eventIgnore, SessionID: "ses_01jcd9"},
		},
		"Text should accumulate verbatim": {
			line: `{"type":"text","text":"working on it"}`,
			exp:  streamEvent{Kind: eventText, Text: "working on it"},
		},
		"A tool event should become a status": {
			line: `{"type":"tool","name":"bash","input":{"command":"ls"}}`,
			exp:  streamEvent{Kind: eventStatus, Text: "Using `bash`"},
		},
		"Done should be terminal": {
			line: `{"type":"done"}`,
			exp:  streamEvent{Kind: eventTerminal},
		},
		"An error should be a terminal error": {
			line: `{"type":"error","message":"provider unavailable"}`,
			exp:  streamEvent{Kind: eventTerminal, IsError: true, ErrText: "provider unavailable"},
		},
		"Log lines should be ignored": {
			line: "INFO starting server",
			exp:  streamEvent{Kind: eventIgnore},
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, test.exp, parseOpencodeLine(test.line))
		})
	}
}

func TestAiderParser(t *testing.T) {
	t.Run("Every line is assistant text", func(t *testing.T) {
		ev := parseAiderLine("Applied edit to cmd/main.go")
		assert.Equal(t, streamEvent{Kind: eventText, Text: "Applied edit to cmd/main.go\n"}, ev)
	})
}
