// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package messaging wraps the subset of the Matrix client-server API
// the moderation bot needs.
//
// [Client] holds the homeserver URL, the HTTP transport, and a
// client-side token bucket that every request passes through, so a
// burst of ban propagation cannot trip the homeserver's rate limiter.
// [DirectSession] wraps a Client with an access token held in
// mmap-backed [secret.Token] memory and provides the room operations:
// create, join, invite, leave, kick, ban, unban, message send, state
// reads, alias resolution, and /sync.
//
// All API errors are returned as [*MatrixError] carrying the Matrix
// error code and HTTP status. [IsMatrixError] tests for one code;
// [IsPermanent] and [IsTransient] sort failures into the two classes
// the retry logic cares about. Request URLs are built by string
// concatenation with url.PathEscape per segment so aliases and IDs
// containing reserved characters are encoded exactly once.
//
// Core packages do not import *DirectSession directly. Each declares
// the narrow interface it calls and the service binary passes the
// session in.
package messaging
