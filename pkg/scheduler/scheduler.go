// Package scheduler runs deferred tasks. Marker expiry is its only caller,
// which registers one task per marker lifetime.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Scheduler arranges for task to run once, no earlier than d from now, on a
// goroutine that does not hold any caller lock.
type Scheduler interface {
	After(d time.Duration, task func())
}

// TimerScheduler backs each task with a time.AfterFunc timer and tracks the
// timers so they can be cancelled at shutdown.
type TimerScheduler struct {
	mu      sync.Mutex
	nextID  uint64
	pending map[uint64]*time.Timer
	running sync.WaitGroup
	stopped bool
	logger  zerolog.Logger
}

// NewTimerScheduler creates a scheduler ready to accept tasks.
func NewTimerScheduler(logger zerolog.Logger) *TimerScheduler {
	return &TimerScheduler{
		pending: make(map[uint64]*time.Timer),
		logger:  logger.With().Str("component", "TimerScheduler").Logger(),
	}
}

// After registers task. Non-positive delays fire as soon as the runtime
// allows. Tasks registered after Stop are discarded.
func (s *TimerScheduler) After(d time.Duration, task func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		s.logger.Debug().Dur("delay", d).Msg("Scheduler stopped, task discarded.")
		return
	}

	s.nextID++
	id := s.nextID
	s.pending[id] = time.AfterFunc(d, func() {
		s.mu.Lock()
		if _, ok := s.pending[id]; !ok {
			s.mu.Unlock()
			return
		}
		delete(s.pending, id)
		s.running.Add(1)
		s.mu.Unlock()

		defer s.running.Done()
		task()
	})
}

// Pending returns the number of tasks whose timers have not fired yet.
func (s *TimerScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Stop cancels every pending timer and waits for tasks already running to
// return, or for ctx to be done.
func (s *TimerScheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.stopped = true
	cancelled := 0
	for id, timer := range s.pending {
		if timer.Stop() {
			cancelled++
		}
		delete(s.pending, id)
	}
	s.mu.Unlock()
	s.logger.Info().Int("cancelled", cancelled).Msg("Scheduler stopping.")

	done := make(chan struct{})
	go func() {
		s.running.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.logger.Warn().Msg("Timed out waiting for running tasks.")
		return ctx.Err()
	}
}
