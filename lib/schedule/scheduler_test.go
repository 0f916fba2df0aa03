// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package schedule

import (
	"context"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bureau-foundation/childserv/lib/clock"
	"github.com/bureau-foundation/childserv/lib/dispatch"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestScheduler(t *testing.T) (*Scheduler, *clock.FakeClock, *dispatch.Loop) {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	fake := clock.Fake(epoch)
	loop := dispatch.New(logger)
	return New(fake, loop, logger), fake, loop
}

func TestAtFiresOnce(t *testing.T) {
	scheduler, fake, loop := newTestScheduler(t)

	var fired atomic.Int32
	scheduler.At("leave", epoch.Add(time.Hour), func(context.Context) { fired.Add(1) })

	if when, ok := scheduler.When("leave"); !ok || !when.Equal(epoch.Add(time.Hour)) {
		t.Fatalf("When() = %v, %v; want %v", when, ok, epoch.Add(time.Hour))
	}

	fake.Advance(59 * time.Minute)
	loop.Wait()
	if fired.Load() != 0 {
		t.Fatal("fired before deadline")
	}

	fake.Advance(time.Minute)
	loop.Wait()
	if fired.Load() != 1 {
		t.Fatalf("fired %d times, want 1", fired.Load())
	}
	if scheduler.Len() != 0 {
		t.Errorf("Len() = %d after one-shot fired, want 0", scheduler.Len())
	}

	fake.Advance(24 * time.Hour)
	loop.Wait()
	if fired.Load() != 1 {
		t.Errorf("one-shot fired again: %d", fired.Load())
	}
}

func TestRescheduleLeavesOneLiveTimer(t *testing.T) {
	scheduler, fake, loop := newTestScheduler(t)

	var first, second atomic.Int32
	scheduler.At("leave", epoch.Add(time.Hour), func(context.Context) { first.Add(1) })
	scheduler.At("leave", epoch.Add(2*time.Hour), func(context.Context) { second.Add(1) })

	if scheduler.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", scheduler.Len())
	}
	if fake.PendingCount() != 1 {
		t.Fatalf("clock has %d pending timers, want 1", fake.PendingCount())
	}

	fake.Advance(3 * time.Hour)
	loop.Wait()
	if first.Load() != 0 {
		t.Error("replaced timer fired")
	}
	if second.Load() != 1 {
		t.Errorf("replacement fired %d times, want 1", second.Load())
	}
}

func TestStaleFiringSuppressed(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)
	fake := clock.Fake(epoch)
	held := &heldLoop{}
	scheduler := New(fake, held, logger)

	var stale, fresh atomic.Int32
	scheduler.At("leave", epoch.Add(time.Minute), func(context.Context) { stale.Add(1) })

	// The timer fires and its task is queued but has not run yet.
	fake.Advance(time.Minute)
	if len(held.tasks) != 1 {
		t.Fatalf("queued %d tasks, want 1", len(held.tasks))
	}

	// Rescheduling now must make the queued task a no-op.
	scheduler.At("leave", epoch.Add(time.Hour), func(context.Context) { fresh.Add(1) })
	held.runAll()
	if stale.Load() != 0 {
		t.Error("stale firing ran after reschedule")
	}
	if _, ok := scheduler.When("leave"); !ok {
		t.Error("stale firing removed the replacement timer")
	}

	fake.Advance(time.Hour)
	held.runAll()
	if fresh.Load() != 1 {
		t.Errorf("replacement fired %d times, want 1", fresh.Load())
	}
}

func TestCancel(t *testing.T) {
	scheduler, fake, loop := newTestScheduler(t)

	var fired atomic.Int32
	scheduler.At("leave", epoch.Add(time.Minute), func(context.Context) { fired.Add(1) })
	if !scheduler.Cancel("leave") {
		t.Fatal("Cancel() = false for installed timer")
	}
	if scheduler.Cancel("leave") {
		t.Error("second Cancel() = true")
	}
	fake.Advance(time.Hour)
	loop.Wait()
	if fired.Load() != 0 {
		t.Error("cancelled timer fired")
	}
	if fake.PendingCount() != 0 {
		t.Errorf("clock has %d pending timers after cancel", fake.PendingCount())
	}
}

func TestPastDeadlineFiresImmediately(t *testing.T) {
	scheduler, _, loop := newTestScheduler(t)

	var fired atomic.Int32
	scheduler.At("overdue", epoch.Add(-time.Hour), func(context.Context) { fired.Add(1) })
	loop.Wait()
	if fired.Load() != 1 {
		t.Errorf("overdue timer fired %d times, want 1", fired.Load())
	}
}

func TestEvery(t *testing.T) {
	scheduler, fake, loop := newTestScheduler(t)

	var runs atomic.Int32
	scheduler.Every("reconcile", 2*time.Minute, func(context.Context) { runs.Add(1) })

	for range 3 {
		fake.Advance(2 * time.Minute)
		loop.Wait()
	}
	if runs.Load() != 3 {
		t.Fatalf("periodic job ran %d times, want 3", runs.Load())
	}
	if when, ok := scheduler.When("reconcile"); !ok || !when.Equal(epoch.Add(8*time.Minute)) {
		t.Errorf("next run = %v, %v; want %v", when, ok, epoch.Add(8*time.Minute))
	}

	scheduler.Cancel("reconcile")
	fake.Advance(10 * time.Minute)
	loop.Wait()
	if runs.Load() != 3 {
		t.Errorf("periodic job ran after cancel: %d", runs.Load())
	}
}

func TestStop(t *testing.T) {
	scheduler, fake, _ := newTestScheduler(t)
	scheduler.At("a", epoch.Add(time.Minute), func(context.Context) {})
	scheduler.Every("b", time.Minute, func(context.Context) {})
	scheduler.Stop()
	if scheduler.Len() != 0 || fake.PendingCount() != 0 {
		t.Errorf("after Stop: Len() = %d, pending = %d", scheduler.Len(), fake.PendingCount())
	}
}

// heldLoop queues tasks until the test runs them.
type heldLoop struct {
	tasks []dispatch.Task
}

func (h *heldLoop) Submit(_ string, task dispatch.Task) bool {
	h.tasks = append(h.tasks, task)
	return true
}

func (h *heldLoop) runAll() {
	tasks := h.tasks
	h.tasks = nil
	for _, task := range tasks {
		task(context.Background())
	}
}
