// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time source.
//
// Everything in the bot that waits (welcome-room leave timers, the
// propagation reconcile job, /sync error backoff) takes a [Clock]
// instead of calling the time package. Production passes [Real]; tests
// pass a [FakeClock] and move time explicitly with Advance, which makes
// an hour-long grace period a single function call in a test.
//
// FakeClock runs AfterFunc callbacks synchronously inside Advance, in
// deadline order. Callbacks may schedule further timers on the same
// clock; those fire within the same Advance call if their deadline is
// not after the advanced time.
package clock
