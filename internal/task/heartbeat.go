package task

import (
	"context"
	"sync"
	"time"

	"github.com/taskmill/taskmill/internal/log"
	"github.com/taskmill/taskmill/internal/model"
	"github.com/taskmill/taskmill/internal/storage"
)

// heartbeat tracks nested agent operations for one running task. The task
// timeout may only be extended while an operation is running and its last
// beat is recent.
type heartbeat struct {
	mu         sync.Mutex
	running    int
	last       time.Time
	extensions int
}

func (h *heartbeat) observe(act model.SubAgentActivity) {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch act.Status {
	case model.SubAgentRunning:
		h.running++
	case model.SubAgentCompleted, model.SubAgentFailed:
		if h.running > 0 {
			h.running--
		}
	}
	h.last = time.Now()
}

// extendable reports whether a timeout extension is justified right now.
func (h *heartbeat) extendable(now time.Time, grace time.Duration) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.running > 0 && !h.last.IsZero() && now.Sub(h.last) < grace
}

func (h *heartbeat) extend() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.extensions++
	return h.extensions
}

// recorder persists each beat so cross-process readers observe liveness.
func (h *heartbeat) recorder(repo storage.TaskRepository, taskID string, logger log.Logger) func(model.SubAgentActivity) {
	return func(act model.SubAgentActivity) {
		h.observe(act)

		now := time.Now().UTC()
		err := repo.UpdateTask(context.Background(), taskID, model.TaskUpdate{LastHeartbeat: &now})
		if err != nil {
			logger.Debugf("Could not persist heartbeat: %s", err)
		}
	}
}
