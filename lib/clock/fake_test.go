// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"testing"
	"time"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestFakeNow(t *testing.T) {
	clock := Fake(epoch)
	if !clock.Now().Equal(epoch) {
		t.Fatalf("Now() = %v, want %v", clock.Now(), epoch)
	}
	clock.Advance(time.Hour)
	if want := epoch.Add(time.Hour); !clock.Now().Equal(want) {
		t.Fatalf("Now() after Advance = %v, want %v", clock.Now(), want)
	}
}

func TestFakeAfterFuncFiresInDeadlineOrder(t *testing.T) {
	clock := Fake(epoch)
	var order []string
	clock.AfterFunc(3*time.Second, func() { order = append(order, "third") })
	clock.AfterFunc(1*time.Second, func() { order = append(order, "first") })
	clock.AfterFunc(2*time.Second, func() { order = append(order, "second") })

	clock.Advance(2 * time.Second)
	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Fatalf("after 2s fired %v, want [first second]", order)
	}
	if clock.PendingCount() != 1 {
		t.Fatalf("PendingCount() = %d, want 1", clock.PendingCount())
	}
	clock.Advance(time.Second)
	if len(order) != 3 || order[2] != "third" {
		t.Fatalf("after 3s fired %v", order)
	}
}

func TestFakeCallbackSeesItsDeadline(t *testing.T) {
	clock := Fake(epoch)
	var seen time.Time
	clock.AfterFunc(time.Minute, func() { seen = clock.Now() })
	clock.Advance(time.Hour)
	if want := epoch.Add(time.Minute); !seen.Equal(want) {
		t.Errorf("callback saw %v, want %v", seen, want)
	}
	if want := epoch.Add(time.Hour); !clock.Now().Equal(want) {
		t.Errorf("Now() = %v, want %v", clock.Now(), want)
	}
}

func TestFakeCallbackCanReschedule(t *testing.T) {
	clock := Fake(epoch)
	fired := 0
	var tick func()
	tick = func() {
		fired++
		clock.AfterFunc(time.Minute, tick)
	}
	clock.AfterFunc(time.Minute, tick)
	clock.Advance(5 * time.Minute)
	if fired != 5 {
		t.Errorf("fired %d times, want 5", fired)
	}
	if clock.PendingCount() != 1 {
		t.Errorf("PendingCount() = %d, want 1", clock.PendingCount())
	}
}

func TestFakeStop(t *testing.T) {
	clock := Fake(epoch)
	fired := false
	timer := clock.AfterFunc(time.Second, func() { fired = true })
	if !timer.Stop() {
		t.Fatal("Stop() on pending timer returned false")
	}
	if timer.Stop() {
		t.Error("second Stop() returned true")
	}
	clock.Advance(time.Minute)
	if fired {
		t.Error("stopped timer fired")
	}
}

func TestFakeStopAfterFire(t *testing.T) {
	clock := Fake(epoch)
	timer := clock.AfterFunc(time.Second, func() {})
	clock.Advance(time.Second)
	if timer.Stop() {
		t.Error("Stop() after fire returned true")
	}
}

func TestFakeAfter(t *testing.T) {
	clock := Fake(epoch)
	channel := clock.After(time.Second)
	select {
	case <-channel:
		t.Fatal("After channel ready before Advance")
	default:
	}
	clock.Advance(time.Second)
	select {
	case got := <-channel:
		if want := epoch.Add(time.Second); !got.Equal(want) {
			t.Errorf("After delivered %v, want %v", got, want)
		}
	default:
		t.Fatal("After channel not ready after Advance")
	}
}

func TestFakeWaitForTimers(t *testing.T) {
	clock := Fake(epoch)
	done := make(chan struct{})
	go func() {
		<-clock.After(time.Minute)
		close(done)
	}()
	clock.WaitForTimers(1)
	clock.Advance(time.Minute)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("goroutine did not observe the advance")
	}
}
