// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package bansync keeps one ban list applied across a set of rooms.
//
// The [Synchronizer] owns the canonical set of [Entry] values (who is
// banned, why, by whom) and, for every entry and target room, a
// [Record] tracking whether the ban has landed there. Issuing a ban
// writes the entry and one pending record per target in a single
// store transaction, then propagates in the background on the event
// loop; the operator's command returns before any room has been
// touched. Revoking a ban replaces the subject's ban records with
// unban records and propagates those the same way.
//
// Propagation is eventually consistent. A record moves from pending to
// applied on success. A transient failure (network trouble, timeouts,
// 5xx, rate limiting) marks it failed with a capped exponential
// backoff, and the periodic [Synchronizer.Reconcile] pass retries it
// once the backoff has elapsed. A permanent failure (the room is gone,
// the bot lacks power) or running out of attempts marks it terminally
// failed and raises an operator alert. Terminal records are never
// retried automatically; an operator re-arms them with
// [Synchronizer.RetryPermanent] after fixing the cause.
//
// All work for one subject runs on that subject's event loop lane, so
// a ban and a later unban of the same user can never race each other
// in a room. Gateway calls across all subjects are bounded by a shared
// worker limit.
//
// The store is SQLite in production ([OpenSQLiteStore]) so pending
// work survives restarts, and in memory for tests ([NewMemoryStore]).
package bansync
