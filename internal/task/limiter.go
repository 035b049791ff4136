package task

import (
	"context"
	"fmt"
	"sync"

	"github.com/taskmill/taskmill/internal/model"
)

// Limiter bounds how many tasks a user can run at once.
type Limiter interface {
	Acquire(ctx context.Context, userID string) error
	Release(userID string)
}

// UserLimiter allows a fixed number of concurrent tasks per user.
type UserLimiter struct {
	max    int
	mu     sync.Mutex
	active map[string]int
}

// NewUserLimiter creates a limiter with the given per-user concurrency.
func NewUserLimiter(max int) *UserLimiter {
	return &UserLimiter{max: max, active: map[string]int{}}
}

// Acquire reserves a slot for the user or fails with a rate-limit error.
func (l *UserLimiter) Acquire(ctx context.Context, userID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.active[userID] >= l.max {
		return fmt.Errorf("user %s already has %d running tasks: %w", userID, l.active[userID], model.ErrRateLimited)
	}
	l.active[userID]++
	return nil
}

// Release frees a previously acquired slot.
func (l *UserLimiter) Release(userID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.active[userID] > 1 {
		l.active[userID]--
		return
	}
	delete(l.active, userID)
}

// unlimited is the default limiter.
type unlimited struct{}

func (unlimited) Acquire(context.Context, string) error { return nil }
func (unlimited) Release(string)                        {}
