package gstate

import (
	"sync"
	"time"
)

// Scheduler runs fn once, after the caller's current synchronous work.
// GlobalState uses it to batch watcher notifications.
type Scheduler interface {
	Schedule(fn func())
}

// SchedulerFunc adapts a function to Scheduler.
type SchedulerFunc func(fn func())

// Schedule implements Scheduler.
func (f SchedulerFunc) Schedule(fn func()) {
	if f != nil {
		f(fn)
	}
}

// TimerScheduler runs callbacks on a zero-delay timer goroutine.
func TimerScheduler() Scheduler {
	return SchedulerFunc(func(fn func()) {
		time.AfterFunc(0, fn)
	})
}

// ManualScheduler queues callbacks until Flush is called. It gives tests and
// single-threaded hosts full control over when notifications are delivered.
type ManualScheduler struct {
	mu    sync.Mutex
	queue []func()
}

// Schedule implements Scheduler.
func (s *ManualScheduler) Schedule(fn func()) {
	s.mu.Lock()
	s.queue = append(s.queue, fn)
	s.mu.Unlock()
}

// Pending returns the number of queued callbacks.
func (s *ManualScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Flush runs queued callbacks, including ones scheduled while flushing, and
// returns how many ran.
func (s *ManualScheduler) Flush() int {
	ran := 0
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.mu.Unlock()
			return ran
		}
		fn := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()
		fn()
		ran++
	}
}
