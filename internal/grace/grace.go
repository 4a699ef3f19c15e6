// Package grace provides keyed, cancellable deferred tasks. The relay uses it
// for two delays: the disconnect grace window before a session is torn down,
// and the post-session transcript retention window.
package grace

import (
	"sync"
	"time"
)

// Supervisor schedules one pending task per key. Scheduling a key that already
// has a pending task replaces it. A reconnect can therefore cancel the
// disconnect timer outright; callbacks are still expected to re-check live
// state at fire time so a lost cancel stays harmless.
type Supervisor struct {
	mu     sync.Mutex
	timers map[string]*time.Timer
}

// NewSupervisor creates an empty Supervisor.
func NewSupervisor() *Supervisor {
	return &Supervisor{
		timers: make(map[string]*time.Timer),
	}
}

// Schedule arranges for fn to run after delay, keyed by key. Any previously
// pending task for the same key is cancelled first. fn runs on its own
// goroutine; the key is released before fn is invoked so fn may re-schedule.
func (s *Supervisor) Schedule(key string, delay time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.timers[key]; ok {
		t.Stop()
	}

	s.timers[key] = time.AfterFunc(delay, func() {
		s.mu.Lock()
		delete(s.timers, key)
		s.mu.Unlock()
		fn()
	})
}

// Cancel stops the pending task for key, if any. It reports whether a task
// was actually pending and stopped before firing.
func (s *Supervisor) Cancel(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.timers[key]
	if !ok {
		return false
	}
	delete(s.timers, key)
	return t.Stop()
}

// Pending reports whether a task is currently scheduled for key.
func (s *Supervisor) Pending(key string) bool {
	s.mu.Lock()
	_, ok := s.timers[key]
	s.mu.Unlock()
	return ok
}

// Len returns the number of pending tasks.
func (s *Supervisor) Len() int {
	s.mu.Lock()
	n := len(s.timers)
	s.mu.Unlock()
	return n
}

// StopAll cancels every pending task. Used during shutdown.
func (s *Supervisor) StopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, t := range s.timers {
		t.Stop()
		delete(s.timers, key)
	}
}
