package scheduler

import (
	"slices"
	"sync"
	"time"
)

// ManualScheduler only fires tasks when Advance moves its clock past their
// deadline. It is meant for deterministic tests.
type ManualScheduler struct {
	mu    sync.Mutex
	now   time.Duration
	seq   uint64
	tasks []manualTask
}

type manualTask struct {
	at   time.Duration
	seq  uint64
	task func()
}

// NewManualScheduler returns a scheduler whose clock starts at zero.
func NewManualScheduler() *ManualScheduler {
	return &ManualScheduler{}
}

// After records task to fire once the clock reaches now+d.
func (s *ManualScheduler) After(d time.Duration, task func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	s.tasks = append(s.tasks, manualTask{at: s.now + max(d, 0), seq: s.seq, task: task})
}

// Advance moves the clock forward by d and runs every task that became due,
// in deadline order, on the calling goroutine. Ties run in registration order.
// Tasks registered by a running task are considered in the same call.
func (s *ManualScheduler) Advance(d time.Duration) {
	s.mu.Lock()
	target := s.now + d
	s.mu.Unlock()

	for {
		s.mu.Lock()
		next := -1
		for i, t := range s.tasks {
			if t.at > target {
				continue
			}
			if next < 0 || t.at < s.tasks[next].at || (t.at == s.tasks[next].at && t.seq < s.tasks[next].seq) {
				next = i
			}
		}
		if next < 0 {
			s.now = target
			s.mu.Unlock()
			return
		}
		due := s.tasks[next]
		s.tasks = slices.Delete(s.tasks, next, next+1)
		s.now = due.at
		s.mu.Unlock()

		due.task()
	}
}

// Pending returns the number of tasks not yet fired.
func (s *ManualScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// ImmediateScheduler runs each task synchronously inside After, ignoring the
// delay.
type ImmediateScheduler struct{}

func (ImmediateScheduler) After(_ time.Duration, task func()) {
	task()
}
