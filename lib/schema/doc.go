// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package schema defines the Matrix event types and content shapes the
// bot reads: room membership, messages, and power levels.
//
// Membership changes arrive as m.room.member state events whose meaning
// depends on three facts: the new membership, the previous membership
// (from unsigned.prev_content), and whether the sender is the target.
// [ClassifyMembership] folds those into a closed [Transition] set so
// that routing code switches over named cases instead of re-deriving
// "was this a kick?" from raw strings at every call site.
package schema
