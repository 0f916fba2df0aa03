// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package service provides the scaffolding a long-running Matrix bot
// needs around its domain logic:
//
//   - Session loading: read session.json, apply CHILDSERV_*
//     environment overrides, and create an authenticated Matrix
//     client and session.
//   - Sync loop: an initial /sync snapshot followed by the
//     incremental long-poll with exponential backoff, delivering each
//     response to a caller-provided handler.
//   - Invite handling: join rooms the bot was invited to, filtered by
//     who sent the invite.
//
// The bot composes these in its own main() rather than subclassing a
// framework. The package provides building blocks, not a runtime.
package service
