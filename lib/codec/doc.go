// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec is the CBOR configuration for the bot's on-disk state.
//
// Encoding uses Core Deterministic Encoding (RFC 8949 §4.2) so the same
// state always produces the same bytes, which keeps snapshot diffs and
// test fixtures stable. Types implementing encoding.TextMarshaler (the
// ref identifiers) encode as text strings, and times encode as RFC 3339
// strings with nanoseconds so a restored timer deadline is exact.
//
// [WriteFile] and [ReadFile] persist a single value atomically: the
// encoded bytes go to a temporary file in the same directory, are
// synced, then renamed over the target.
package codec
