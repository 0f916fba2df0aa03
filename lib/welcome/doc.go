// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package welcome manages private welcome rooms.
//
// When someone joins a monitored public room, the [Manager] creates a
// private room with that member invited, posts a templated welcome
// message, and schedules the bot's departure after a grace period. A
// member has at most one welcome room at a time; joining a second
// monitored room while one is open does nothing.
//
// Each welcome room has exactly one scheduled leave. The timer is keyed
// by the welcomed member (see [LaneKey]) and delivered through the
// event loop on the same key as the member's membership events, so a
// timer firing can never interleave with join or removal handling for
// the same room. Every path that ends a welcome room (timer, operator
// close, member departure, failed rejoin) cancels the timer before
// acting.
//
// If the bot is kicked or banned from a welcome room by someone else,
// it tries to rejoin while the room's rejoin budget lasts. A
// successful rejoin keeps the original deadline.
//
// Tracked rooms are written to a CBOR snapshot after every change and
// reloaded by [Manager.Restore], so a restart neither strands rooms nor
// forgets their deadlines. Overdue deadlines fire immediately on
// restore.
package welcome
