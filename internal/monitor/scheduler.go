// internal/monitor/scheduler.go
package monitor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/rovshanmuradov/spot-trading-bot/internal/state"
	"go.uber.org/zap"
)

// ErrSchedulerClosed is returned by Start after Shutdown.
var ErrSchedulerClosed = errors.New("scheduler is shut down")

// TaskFunc is the body of a monitor. It must return promptly once
// t.Context() is done.
type TaskFunc func(t *Task)

// Registry records which task owns each (user, symbol) key.
type Registry interface {
	Swap(userID, symbol string, handle state.MonitorHandle) state.MonitorHandle
	Remove(userID, symbol string) state.MonitorHandle
	Release(userID, symbol string, handle state.MonitorHandle) bool
	ReleaseAll(userID string) []state.MonitorHandle
	Monitored(userID string) []string
}

// Scheduler runs at most one monitor task per (user, symbol).
type Scheduler struct {
	registry Registry
	logger   *zap.Logger
	now      func() time.Time

	base   context.Context
	stop   context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
}

// NewScheduler creates a scheduler backed by registry.
func NewScheduler(registry Registry, logger *zap.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		registry: registry,
		logger:   logger.Named("scheduler"),
		now:      time.Now,
		base:     ctx,
		stop:     cancel,
	}
}

// Start registers a new task for the key, cancelling the one it supersedes,
// and runs fn in its own goroutine.
func (s *Scheduler) Start(userID, symbol string, fn TaskFunc) (*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrSchedulerClosed
	}

	t := newTask(s.base, userID, symbol, s.now())
	if old := s.registry.Swap(userID, symbol, t); old != nil {
		old.Cancel()
		s.logger.Debug("Superseded monitor",
			zap.String("user_id", userID),
			zap.String("symbol", symbol))
	}

	s.wg.Add(1)
	go s.run(t, fn)
	return t, nil
}

func (s *Scheduler) run(t *Task, fn TaskFunc) {
	defer s.wg.Done()
	defer close(t.done)
	defer s.registry.Release(t.UserID, t.Symbol, t)
	defer t.cancel()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Monitor task panicked",
				zap.String("user_id", t.UserID),
				zap.String("symbol", t.Symbol),
				zap.Any("panic", r),
				zap.String("stack", string(debug.Stack())))
		}
	}()

	fn(t)
}

// Cancel stops the task of the key. Missing keys are ignored.
func (s *Scheduler) Cancel(userID, symbol string) bool {
	h := s.registry.Remove(userID, symbol)
	if h == nil {
		return false
	}
	h.Cancel()
	return true
}

// CancelAll stops every task of the user and returns how many were running.
func (s *Scheduler) CancelAll(userID string) int {
	handles := s.registry.ReleaseAll(userID)
	for _, h := range handles {
		h.Cancel()
	}
	return len(handles)
}

// Active lists the symbols with a live task for the user.
func (s *Scheduler) Active(userID string) []string {
	return s.registry.Monitored(userID)
}

// Wait blocks until every task has returned.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// Shutdown cancels all tasks and waits for them until ctx is done.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.stop()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("All monitors stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for monitors: %w", ctx.Err())
	}
}

// Close implements io.Closer for the shutdown handler.
func (s *Scheduler) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.Shutdown(ctx)
}
