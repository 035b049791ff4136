package agent

import (
	"bytes"
	"strings"
	"sync"
	"time"
)

// streamEventKind classifies one parsed line of backend output.
type streamEventKind int

const (
	// eventIgnore drops the line. Unknown or non-JSON lines on structured
	// streams are ignored, never fatal.
	eventIgnore streamEventKind = iota
	// eventText is assistant prose appended verbatim to the transcript.
	eventText
	// eventStatus is a tool or command operation rendered as a short
	// human-readable line.
	eventStatus
	// eventTerminal marks the end of the run as reported by the backend.
	eventTerminal
)

// streamEvent is the uniform shape every backend parser reduces a line to.
type streamEvent struct {
	Kind      streamEventKind
	Text      string
	SessionID string
	// SubAgent names a nested agent operation starting or ending.
	SubAgent    string
	SubAgentEnd bool
	// IsError marks a terminal event as a backend-reported failure.
	IsError bool
	ErrText string
}

// parseFunc turns one raw output line into a stream event.
type parseFunc func(line string) streamEvent

// accumulator is the single-writer buffer an agent process streams into and
// the completion loop polls. The process goroutine writes, the poll loop
// reads; everything is guarded by one mutex.
type accumulator struct {
	mu    sync.Mutex
	parse parseFunc

	maxBytes int64
	total    int64
	capped   bool

	partial      []byte
	content      strings.Builder
	reply        strings.Builder
	lastActivity time.Time

	sessionID string

	done    bool
	isError bool
	errText string

	onStatus func(name string, end bool)
}

func newAccumulator(parse parseFunc, maxBytes int64, onStatus func(name string, end bool)) *accumulator {
	return &accumulator{
		parse:        parse,
		maxBytes:     maxBytes,
		lastActivity: time.Now(),
		onStatus:     onStatus,
	}
}

// Write implements io.Writer for the process stdout. Bytes past the cap are
// swallowed so the process keeps running while accumulation plateaus.
func (a *accumulator) Write(p []byte) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.lastActivity = time.Now()
	a.total += int64(len(p))
	if a.capped {
		return len(p), nil
	}
	if a.total > a.maxBytes {
		a.capped = true
		return len(p), nil
	}

	a.partial = append(a.partial, p...)
	for {
		i := bytes.IndexByte(a.partial, '\n')
		if i < 0 {
			break
		}
		line := string(a.partial[:i])
		a.partial = a.partial[i+1:]
		a.consumeLocked(line)
	}
	return len(p), nil
}

// Flush processes a trailing line without a newline, called once after the
// process exits.
func (a *accumulator) Flush() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.partial) == 0 || a.capped {
		return
	}
	line := string(a.partial)
	a.partial = nil
	a.consumeLocked(line)
}

func (a *accumulator) consumeLocked(line string) {
	line = strings.TrimRight(line, "\r")
	if strings.TrimSpace(line) == "" {
		return
	}

	ev := a.parse(line)

	// The first session identifier seen is kept; terminal events overwrite
	// it, latest wins, since some backends mint the definitive identifier
	// last.
	if ev.SessionID != "" {
		if a.sessionID == "" || ev.Kind == eventTerminal {
			a.sessionID = ev.SessionID
		}
	}

	if ev.SubAgent != "" && a.onStatus != nil {
		a.onStatus(ev.SubAgent, ev.SubAgentEnd)
	}

	switch ev.Kind {
	case eventText:
		a.content.WriteString(ev.Text)
		a.reply.WriteString(ev.Text)
	case eventStatus:
		if a.content.Len() > 0 {
			a.content.WriteString("\n")
		}
		a.content.WriteString(ev.Text)
		a.content.WriteString("\n")
	case eventTerminal:
		a.done = true
		a.isError = ev.IsError
		a.errText = ev.ErrText
		if ev.Text != "" {
			a.reply.Reset()
			a.reply.WriteString(ev.Text)
		}
	}
}

func (a *accumulator) Snapshot() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.content.String()
}

func (a *accumulator) Reply() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return strings.TrimSpace(a.reply.String())
}

func (a *accumulator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.content.Len()
}

func (a *accumulator) LastActivity() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastActivity
}

func (a *accumulator) Capped() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.capped
}

func (a *accumulator) Completed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.done
}

func (a *accumulator) TerminalError() (bool, string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.isError, a.errText
}

func (a *accumulator) SessionID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sessionID
}
