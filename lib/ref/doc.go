// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package ref provides validated, immutable Matrix identifiers.
//
// Matrix identifiers are sigil-prefixed strings with a server suffix:
// users are "@localpart:server", rooms are "!opaque:server", aliases
// are "#localpart:server", and events are "$opaque" (room version 3+)
// or "$opaque:server" (older versions). Code that passes identifiers
// between the sync loop, the command engine, and the moderation
// components uses these types so that a user ID can never be handed to
// a parameter expecting a room ID, and so that malformed input from a
// chat message is rejected at the boundary where it is parsed.
//
// All types implement encoding.TextMarshaler and TextUnmarshaler, so
// they round-trip through JSON (Matrix API bodies), YAML
// (configuration), and CBOR (state snapshots) in their canonical
// string form. Map keys of these types work with encoding/json.
//
// [RoomRef] is the one non-canonical type: operator input and
// configuration may name a room either by ID or by alias, and the
// alias must be resolved against the homeserver before use.
package ref
