// Package timeouts tracks the deadline callbacks that are currently in
// flight: refresh episode deadlines and resolving action deadlines. The
// registry is bounded; when full, the oldest entry is evicted and its
// scheduled execution canceled before the new one is added.
package timeouts

import (
	"sync"
	"time"
)

// Timeout is a scheduled deadline callback. Implementations must be
// comparable (pointer types); the registry cancels and removes entries by
// identity.
type Timeout interface {
	// OnTimeout runs once on a background timer goroutine when the deadline
	// elapses, unless the entry was removed or evicted first.
	OnTimeout()
}

type entry struct {
	timeout Timeout
	timer   *time.Timer
}

// Registry is a bounded FIFO of scheduled timeouts.
type Registry struct {
	mu         sync.Mutex
	maxTracked int
	entries    []*entry
}

// NewRegistry creates a registry tracking at most maxTracked entries.
func NewRegistry(maxTracked int) *Registry {
	return &Registry{maxTracked: maxTracked}
}

// Add schedules t to run once after d. If the registry is full the oldest
// entry is evicted first and its callback will never fire.
func (r *Registry) Add(t Timeout, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.entries) >= r.maxTracked {
		r.removeLocked(r.entries[0].timeout)
	}
	r.entries = append(r.entries, &entry{
		timeout: t,
		timer:   time.AfterFunc(d, t.OnTimeout),
	})
}

// Remove cancels a pending entry. Removing an entry that already fired or
// was already removed is a no-op.
func (r *Registry) Remove(t Timeout) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(t)
}

func (r *Registry) removeLocked(t Timeout) {
	for i, e := range r.entries {
		if e.timeout == t {
			e.timer.Stop()
			r.entries = append(r.entries[:i], r.entries[i+1:]...)
			return
		}
	}
}

// Clear cancels every tracked entry.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		e.timer.Stop()
	}
	r.entries = nil
}

// Len returns the number of tracked entries.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
