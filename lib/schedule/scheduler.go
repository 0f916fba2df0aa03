// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package schedule provides keyed timers whose firings run on the
// event loop.
//
// Each key has at most one live timer. [Scheduler.At] on a key that
// already has a timer cancels the old one before installing the new
// one, so a welcome room's leave deadline can be moved any number of
// times and exactly one leave will ever be attempted for it.
//
// A firing is never executed on the timer goroutine. It is submitted
// to the event loop under the timer's key, so it serializes with every
// other task for that key. Between the firing and the task running,
// the key may be rescheduled or cancelled; each installation carries a
// generation number and a task whose generation is no longer current
// is dropped.
package schedule

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/bureau-foundation/childserv/lib/clock"
	"github.com/bureau-foundation/childserv/lib/dispatch"
)

// Submitter is the part of the event loop the scheduler needs.
// *dispatch.Loop satisfies it.
type Submitter interface {
	Submit(key string, task dispatch.Task) bool
}

// Scheduler owns a set of keyed timers.
type Scheduler struct {
	clock  clock.Clock
	loop   Submitter
	logger *slog.Logger

	mu         sync.Mutex
	entries    map[string]*entry
	generation uint64
}

type entry struct {
	when       time.Time
	generation uint64
	interval   time.Duration
	fn         dispatch.Task
	timer      *clock.Timer
}

// New returns a Scheduler delivering firings through loop.
func New(clk clock.Clock, loop Submitter, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		clock:   clk,
		loop:    loop,
		logger:  logger,
		entries: make(map[string]*entry),
	}
}

// At runs fn on key's lane at when. Replaces any timer already
// installed for key. A when in the past fires immediately.
func (s *Scheduler) At(key string, when time.Time, fn dispatch.Task) {
	s.install(key, when, 0, fn)
}

// Every runs fn on key's lane every interval until the key is
// cancelled or replaced. The next firing is armed after fn returns, so
// a slow run never overlaps the following one.
func (s *Scheduler) Every(key string, interval time.Duration, fn dispatch.Task) {
	s.install(key, s.clock.Now().Add(interval), interval, fn)
}

func (s *Scheduler) install(key string, when time.Time, interval time.Duration, fn dispatch.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if previous, ok := s.entries[key]; ok {
		previous.timer.Stop()
	}
	s.generation++
	current := &entry{
		generation: s.generation,
		interval:   interval,
		fn:         fn,
	}
	s.entries[key] = current
	s.armLocked(key, current, when)
}

func (s *Scheduler) armLocked(key string, current *entry, when time.Time) {
	current.when = when
	generation := current.generation
	current.timer = s.clock.AfterFunc(when.Sub(s.clock.Now()), func() {
		s.fire(key, generation)
	})
}

// fire runs on the timer goroutine and only hands off to the loop.
func (s *Scheduler) fire(key string, generation uint64) {
	s.loop.Submit(key, func(ctx context.Context) {
		s.run(ctx, key, generation)
	})
}

func (s *Scheduler) run(ctx context.Context, key string, generation uint64) {
	s.mu.Lock()
	current, ok := s.entries[key]
	if !ok || current.generation != generation {
		s.mu.Unlock()
		s.logger.Debug("stale timer firing dropped", "key", key)
		return
	}
	if current.interval == 0 {
		delete(s.entries, key)
	}
	s.mu.Unlock()

	current.fn(ctx)

	if current.interval == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entries[key] == current {
		s.armLocked(key, current, s.clock.Now().Add(current.interval))
	}
}

// Cancel removes key's timer. Returns false if none was installed.
func (s *Scheduler) Cancel(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.entries[key]
	if !ok {
		return false
	}
	current.timer.Stop()
	delete(s.entries, key)
	return true
}

// When returns the next firing time for key.
func (s *Scheduler) When(key string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.entries[key]
	if !ok {
		return time.Time{}, false
	}
	return current.when, true
}

// Len returns the number of installed timers.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Stop cancels every timer. Used at shutdown.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, current := range s.entries {
		current.timer.Stop()
		delete(s.entries, key)
	}
}
