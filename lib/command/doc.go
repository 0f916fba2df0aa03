// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package command parses and executes operator chat commands.
//
// Operators drive the bot by sending messages such as
// "!ban @troll:example.org spam" in an admin room. This package turns
// such text into a typed [Invocation] against a statically declared
// tree of [Node] values, checks the sender's permission level, and runs
// the bound [Handler].
//
// A tree is declared once with [Literal] and [Argument] and validated
// by [Build]. Validation rejects duplicate sibling literals, sibling
// arguments that could match the same token, greedy arguments that are
// followed by further nodes, and nodes that neither execute nor lead
// anywhere. A tree that builds cleanly can be matched without
// backtracking: at every position the literal children are tried
// first, then the single argument child.
//
// Errors carry what the sender needs to see. A [*ParseError] includes
// a usage line and, for a mistyped command word, the closest known
// command within edit distance 3. A [*PermissionError] deliberately
// reveals nothing beyond "not permitted".
//
// [Engine] wraps a tree with the admin filter: only messages from a
// configured principal, in an admin room, starting with the command
// prefix, are parsed at all. Everything else is dropped without any
// gateway call.
package command
