// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package secret holds the bot's Matrix access token outside the Go
// heap.
//
// A [Token] is an anonymous mmap region that the garbage collector
// never sees, so the token is never copied by the runtime and is
// zeroed deterministically on Close. The region is excluded from core
// dumps (MADV_DONTDUMP) and, when the process is allowed to, locked
// against swap (mlock). Locking is best-effort: a bot running under a
// small RLIMIT_MEMLOCK still starts, and [Token.Locked] reports whether
// the lock took effect so startup can log it.
package secret
