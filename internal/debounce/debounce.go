// Package debounce coalesces bursts of events into one delayed action per key.
package debounce

import (
	"sync"
	"time"

	"github.com/trustlayer/trustlayer-guard/internal/clock"
)

// DefaultDelay is the quiet period after the last edit before a scan fires.
const DefaultDelay = 1000 * time.Millisecond

// Scheduler keeps at most one pending action per key. Scheduling a key again
// cancels and replaces its pending action; other keys are unaffected.
type Scheduler struct {
	clock clock.Clock
	delay time.Duration

	mu      sync.Mutex
	gen     uint64
	slots   map[string]slot
	running int
}

type slot struct {
	timer clock.Timer
	gen   uint64
}

// New creates a Scheduler. A zero delay selects DefaultDelay and a nil clock
// selects clock.Real().
func New(c clock.Clock, delay time.Duration) *Scheduler {
	if c == nil {
		c = clock.Real()
	}
	if delay <= 0 {
		delay = DefaultDelay
	}
	return &Scheduler{
		clock: c,
		delay: delay,
		slots: make(map[string]slot),
	}
}

// Schedule cancels any pending action for key and arms action to run once
// after the delay.
func (s *Scheduler) Schedule(key string, action func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.slots[key]; ok {
		old.timer.Stop()
	}
	s.gen++
	gen := s.gen
	t := s.clock.AfterFunc(s.delay, func() { s.fire(key, gen, action) })
	s.slots[key] = slot{timer: t, gen: gen}
}

// fire runs action only if its slot was not superseded. A timer can fire on
// its own goroutine just as Schedule replaces it; the generation check drops
// that late callback.
func (s *Scheduler) fire(key string, gen uint64, action func()) {
	s.mu.Lock()
	cur, ok := s.slots[key]
	if !ok || cur.gen != gen {
		s.mu.Unlock()
		return
	}
	delete(s.slots, key)
	s.running++
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running--
		s.mu.Unlock()
	}()
	action()
}

// Cancel drops the pending action for key, if any.
func (s *Scheduler) Cancel(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.slots[key]; ok {
		cur.timer.Stop()
		delete(s.slots, key)
	}
}

// Stop cancels every pending action.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, cur := range s.slots {
		cur.timer.Stop()
		delete(s.slots, key)
	}
}

// Pending returns the number of armed actions.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.slots)
}

// Busy returns the number of armed actions plus actions currently running.
func (s *Scheduler) Busy() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.slots) + s.running
}

// isPending reports whether key has an armed action.
func (s *Scheduler) isPending(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.slots[key]
	return ok
}
