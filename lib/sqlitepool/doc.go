// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool opens a SQLite connection pool with the bot's
// standard pragmas and applies schema migrations.
//
// It wraps zombiezen.com/go/sqlite's sqlitex.Pool. Callers [Pool.Take]
// a connection, do their work, and [Pool.Put] it back; connections are
// not safe for concurrent use. Every connection gets:
//
//   - journal_mode=WAL: readers never block the writer.
//   - synchronous=NORMAL: commits survive a process crash.
//   - busy_timeout=5000: wait for the write lock instead of failing.
//   - temp_store=MEMORY and an 8 MB page cache.
//
// # Migrations
//
// [Config].Migrations is an ordered list of SQL scripts. The pool
// records how many have run in PRAGMA user_version and, on Open, runs
// the remainder each inside its own IMMEDIATE transaction. Scripts are
// append-only: never edit one that has shipped.
//
//	pool, err := sqlitepool.Open(sqlitepool.Config{
//	    Path:       "/var/lib/childserv/bans.db",
//	    Migrations: []string{createTables, addIndex},
//	})
package sqlitepool
