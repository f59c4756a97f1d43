// Package cleanup runs delayed removals of terminal orders.
package cleanup

import (
	"sync"
	"time"

	"github.com/ariefcatur/go-shop-orders/internal/orders"
)

type Scheduler struct {
	mu      sync.Mutex
	timers  map[orders.OrderID]*time.Timer
	stopped bool
}

func NewScheduler() *Scheduler {
	return &Scheduler{timers: make(map[orders.OrderID]*time.Timer)}
}

// Schedule runs fn once after delay. A second Schedule for the same id
// replaces the first. It reports false once the scheduler is stopped.
func (s *Scheduler) Schedule(id orders.OrderID, delay time.Duration, fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	if t, ok := s.timers[id]; ok {
		t.Stop()
	}
	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		s.mu.Lock()
		if s.stopped || s.timers[id] != t {
			s.mu.Unlock()
			return
		}
		delete(s.timers, id)
		s.mu.Unlock()
		fn()
	})
	s.timers[id] = t
	return true
}

// Pending counts removals that have not fired yet.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Stop drops every pending removal. Callbacks already running are not waited for.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
}
