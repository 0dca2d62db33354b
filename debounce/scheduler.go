////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

// Package debounce provides per-key cancellable delayed tasks. Arming a key
// replaces and cancels any prior task for that key, coalescing a burst of
// updates into one execution after a quiet period.
package debounce

import (
	"sync"
	"time"

	jww "github.com/spf13/jwalterweatherman"
)

// Log constants.
const schedulerLogHeader = "DEBOUNCE"

// entry is the handle for one armed task. A fired timer must find its own
// entry still registered under its key before running; otherwise it has
// been superseded or cancelled and must not execute.
type entry struct {
	timer *time.Timer
	fn    func()
}

// Scheduler arms at most one delayed task per key.
type Scheduler struct {
	mux     sync.Mutex
	delay   time.Duration
	pending map[string]*entry
}

// NewScheduler creates a Scheduler with the given quiet-period delay.
func NewScheduler(delay time.Duration) *Scheduler {
	return &Scheduler{
		delay:   delay,
		pending: make(map[string]*entry),
	}
}

// Schedule arms fn to run after the scheduler's delay. Any task previously
// armed for the same key is cancelled and replaced.
func (s *Scheduler) Schedule(key string, fn func()) {
	s.mux.Lock()
	defer s.mux.Unlock()

	if old, exists := s.pending[key]; exists {
		old.timer.Stop()
		jww.TRACE.Printf("[%s] superseding pending task for key %q",
			schedulerLogHeader, key)
	}

	e := &entry{fn: fn}
	e.timer = time.AfterFunc(s.delay, func() { s.fire(key, e) })
	s.pending[key] = e
}

// fire runs a timer's task if and only if it is still the registered task
// for its key.
func (s *Scheduler) fire(key string, e *entry) {
	s.mux.Lock()
	cur, exists := s.pending[key]
	if !exists || cur != e {
		s.mux.Unlock()
		return
	}
	delete(s.pending, key)
	s.mux.Unlock()

	e.fn()
}

// Cancel discards any pending task for the key without running it. Returns
// true if a task was pending.
func (s *Scheduler) Cancel(key string) bool {
	s.mux.Lock()
	defer s.mux.Unlock()

	e, exists := s.pending[key]
	if exists {
		e.timer.Stop()
		delete(s.pending, key)
	}
	return exists
}

// Flush runs any pending task for the key immediately, cancelling its
// timer. Returns true if a task was pending.
func (s *Scheduler) Flush(key string) bool {
	s.mux.Lock()
	e, exists := s.pending[key]
	if exists {
		e.timer.Stop()
		delete(s.pending, key)
	}
	s.mux.Unlock()

	if exists {
		e.fn()
	}
	return exists
}

// FlushAll runs every pending task immediately.
func (s *Scheduler) FlushAll() {
	s.mux.Lock()
	flushed := s.pending
	s.pending = make(map[string]*entry)
	for _, e := range flushed {
		e.timer.Stop()
	}
	s.mux.Unlock()

	for _, e := range flushed {
		e.fn()
	}
}

// StopAll cancels every pending task without running any of them.
func (s *Scheduler) StopAll() {
	s.mux.Lock()
	defer s.mux.Unlock()

	for _, e := range s.pending {
		e.timer.Stop()
	}
	s.pending = make(map[string]*entry)
}

// Pending returns true if a task is armed for the key.
func (s *Scheduler) Pending(key string) bool {
	s.mux.Lock()
	defer s.mux.Unlock()
	_, exists := s.pending[key]
	return exists
}

// Len returns the number of armed tasks.
func (s *Scheduler) Len() int {
	s.mux.Lock()
	defer s.mux.Unlock()
	return len(s.pending)
}
