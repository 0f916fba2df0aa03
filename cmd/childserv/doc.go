// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// childserv is a Matrix moderation bot. It welcomes members who join
// monitored rooms with a private room of their own, keeps a canonical
// ban list replicated across target rooms, and takes operator
// commands from chat.
//
// The binary wires the library packages together: lib/config for the
// YAML configuration, lib/service for the session and /sync loop,
// lib/dispatch and lib/schedule for keyed work and timers,
// lib/welcome and lib/bansync for the two moderation features, and
// lib/command for the operator command surface. Everything after
// startup is driven by /sync responses and timers; nothing polls.
//
// Startup order matters: the welcome snapshot is restored and stored
// bans are aligned with the configured targets before the initial
// /sync, and the initial /sync timeline is not replayed, so only joins
// that happen while the bot is running trigger welcomes.
package main
