package agent

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func textParser(line string) streamEvent {
	return streamEvent{Kind: eventText, Text: line + "\n"}
}

func TestAccumulatorLines(t *testing.T) {
	t.Run("Lines split across writes should be reassembled", func(t *testing.T) {
		acc := newAccumulator(textParser, 1024, nil)

		_, err := acc.Write([]byte("hello "))
		require.NoError(t, err)
		_, err = acc.Write([]byte("world\nsecond"))
		require.NoError(t, err)

		assert.Equal(t, "hello world\n", acc.Snapshot())

		acc.Flush()
		assert.Equal(t, "hello world\nsecond\n", acc.Snapshot())
	})

	t.Run("Blank lines should be dropped", func(t *testing.T) {
		acc := newAccumulator(textParser, 1024, nil)

		_, err := acc.Write([]byte("a\n\n   \r\nb\n"))
		require.NoError(t, err)

		assert.Equal(t, "a\nb\n", acc.Snapshot())
	})
}

func TestAccumulatorSession(t *testing.T) {
	parse := func(line string) streamEvent {
		switch {
		case strings.HasPrefix(line, "init:"):
			return streamEvent{Kind: eventIgnore, SessionID: strings.TrimPrefix(line, "init:")}
		case strings.HasPrefix(line, "end:"):
			return streamEvent{Kind: eventTerminal, SessionID: strings.TrimPrefix(line, "end:")}
		}
		return streamEvent{Kind: eventIgnore}
	}

	t.Run("The first session id seen should be kept", func(t *testing.T) {
		acc := newAccumulator(parse, 1024, nil)

		_, err := acc.Write([]byte("init:first\ninit:second\n"))
		require.NoError(t, err)

		assert.Equal(t, "first", acc.SessionID())
	})

	t.Run("A terminal event should overwrite the session id", func(t *testing.T) {
		acc := newAccumulator(parse, 1024, nil)

		_, err := acc.Write([]byte("init:first\nend:final\n"))
		require.NoError(t, err)

		assert.Equal(t, "final", acc.SessionID())
		assert.True(t, acc.Completed())
	})

	t.Run("The latest terminal session id should win over earlier terminal ids", func(t *testing.T) {
		acc := newAccumulator(parse, 1024, nil)

		_, err := acc.Write([]byte("init:first\nend:intermediate\nend:final\n"))
		require.NoError(t, err)

		assert.Equal(t, "final", acc.SessionID())
	})
}

func TestAccumulatorCap(t *testing.T) {
	t.Run("Writes past the cap should plateau without failing", func(t *testing.T) {
		acc := newAccumulator(textParser, 32, nil)

		_, err := acc.Write([]byte(strings.Repeat("a", 30) + "\n"))
		require.NoError(t, err)
		before := acc.Snapshot()

		n, err := acc.Write([]byte(strings.Repeat("b", 100) + "\n"))
		require.NoError(t, err)
		assert.Equal(t, 101, n)

		assert.True(t, acc.Capped())
		assert.Equal(t, before, acc.Snapshot())

		// Capped writes still count as activity.
		_, err = acc.Write([]byte("more\n"))
		require.NoError(t, err)
		assert.Equal(t, before, acc.Snapshot())
	})
}

func TestAccumulatorTerminal(t *testing.T) {
	parse := func(line string) streamEvent {
		switch line {
		case "boom":
			return streamEvent{Kind: eventTerminal, IsError: true, ErrText: "it broke"}
		case "done":
			return streamEvent{Kind: eventTerminal, Text: "final answer"}
		}
		return streamEvent{Kind: eventText, Text: line + "\n"}
	}

	t.Run("A terminal error should be reported", func(t *testing.T) {
		acc := newAccumulator(parse, 1024, nil)

		_, err := acc.Write([]byte("working\nboom\n"))
		require.NoError(t, err)

		assert.True(t, acc.Completed())
		isErr, errText := acc.TerminalError()
		assert.True(t, isErr)
		assert.Equal(t, "it broke", errText)
	})

	t.Run("A terminal result should replace the reply", func(t *testing.T) {
		acc := newAccumulator(parse, 1024, nil)

		_, err := acc.Write([]byte("intermediate text\ndone\n"))
		require.NoError(t, err)

		assert.Equal(t, "final answer", acc.Reply())
		assert.Contains(t, acc.Snapshot(), "intermediate text")
	})
}

func TestAccumulatorStatus(t *testing.T) {
	t.Run("Subagent events should reach the status hook", func(t *testing.T) {
		parse := func(line string) streamEvent {
			return streamEvent{Kind: eventStatus, Text: "Delegating", SubAgent: line}
		}

		var seen []string
		acc := newAccumulator(parse, 1024, func(name string, end bool) {
			seen = append(seen, name)
		})

		_, err := acc.Write([]byte("explore\nfix\n"))
		require.NoError(t, err)

		assert.Equal(t, []string{"explore", "fix"}, seen)
	})
}
