// internal/monitor/task.go
package monitor

import (
	"context"
	"time"
)

// Task is one running monitor for a (user, symbol) key. It is the handle the
// state store uses to tell live monitors from superseded ones.
type Task struct {
	UserID    string
	Symbol    string
	StartedAt time.Time

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func newTask(parent context.Context, userID, symbol string, now time.Time) *Task {
	ctx, cancel := context.WithCancel(parent)
	return &Task{
		UserID:    userID,
		Symbol:    symbol,
		StartedAt: now,
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
}

// Cancel asks the task to stop at its next poll boundary.
func (t *Task) Cancel() {
	t.cancel()
}

// Context is cancelled when the task is superseded, cancelled or shut down.
func (t *Task) Context() context.Context {
	return t.ctx
}

// Done is closed once the task function has returned.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Cancelled reports whether the task has been asked to stop.
func (t *Task) Cancelled() bool {
	return t.ctx.Err() != nil
}

// Stop cancels the task and waits up to timeout for it to return.
func (t *Task) Stop(timeout time.Duration) bool {
	t.cancel()
	select {
	case <-t.done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Sleep waits for d or until the task is cancelled. It reports whether the
// full duration elapsed.
func (t *Task) Sleep(d time.Duration) bool {
	if d <= 0 {
		return t.ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return t.ctx.Err() == nil
	case <-t.ctx.Done():
		return false
	}
}
