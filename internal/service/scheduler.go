package service

import (
	"sync"
	"time"
)

// DefaultFrameInterval caps frame recomputation near 60 per second.
const DefaultFrameInterval = 16 * time.Millisecond

// Scheduler coalesces bursts of triggers into at most one callback per
// interval. A trigger during the cool-down arms a trailing-edge timer, so
// the last update in a burst always produces a frame once input settles.
type Scheduler struct {
	interval time.Duration
	fn       func()

	mu      sync.Mutex
	lastRun time.Time
	timer   *time.Timer
	stopped bool
}

// NewScheduler creates a scheduler invoking fn at most once per interval.
func NewScheduler(interval time.Duration, fn func()) *Scheduler {
	if interval <= 0 {
		interval = DefaultFrameInterval
	}
	return &Scheduler{interval: interval, fn: fn}
}

// Trigger requests a callback. Runs fn immediately when the interval has
// elapsed since the last run, otherwise schedules a trailing run.
func (s *Scheduler) Trigger() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	now := time.Now()
	elapsed := now.Sub(s.lastRun)
	if elapsed >= s.interval {
		s.lastRun = now
		if s.timer != nil {
			s.timer.Stop()
			s.timer = nil
		}
		s.mu.Unlock()
		s.fn()
		return
	}
	if s.timer == nil {
		s.timer = time.AfterFunc(s.interval-elapsed, s.fire)
	}
	s.mu.Unlock()
}

func (s *Scheduler) fire() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	s.lastRun = time.Now()
	s.mu.Unlock()
	s.fn()
}

// Stop cancels any pending trailing run. Further triggers are ignored.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}
