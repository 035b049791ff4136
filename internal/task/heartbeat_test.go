package task

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/taskmill/taskmill/internal/model"
)

func TestHeartbeatExtendable(t *testing.T) {
	now := time.Now()
	grace := 5 * time.Minute

	tests := map[string]struct {
		running int
		last    time.Time
		exp     bool
	}{
		"A running operation with a fresh beat should allow an extension.": {
			running: 1,
			last:    now.Add(-time.Minute),
			exp:     true,
		},

		"A running operation with a stale beat should not allow an extension.": {
			running: 1,
			last:    now.Add(-grace - time.Second),
			exp:     false,
		},

		"A fresh beat with no running operation should not allow an extension.": {
			running: 0,
			last:    now.Add(-time.Minute),
			exp:     false,
		},

		"No running operation and a stale beat should not allow an extension.": {
			running: 0,
			last:    now.Add(-grace - time.Second),
			exp:     false,
		},

		"A running operation that never beat should not allow an extension.": {
			running: 1,
			exp:     false,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			hb := &heartbeat{running: test.running, last: test.last}
			assert.Equal(t, test.exp, hb.extendable(now, grace))
		})
	}
}

func TestHeartbeatObserve(t *testing.T) {
	t.Run("Completions should never drive the running count negative", func(t *testing.T) {
		hb := &heartbeat{}

		hb.observe(model.SubAgentActivity{Status: model.SubAgentCompleted})
		hb.observe(model.SubAgentActivity{Status: model.SubAgentRunning})
		assert.True(t, hb.extendable(time.Now(), time.Minute))

		hb.observe(model.SubAgentActivity{Status: model.SubAgentCompleted})
		assert.False(t, hb.extendable(time.Now(), time.Minute))
	})
}
