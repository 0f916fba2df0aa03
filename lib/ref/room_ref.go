// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import "fmt"

// RoomRef names a room either by ID or by alias. Exactly one of the
// two is set on a valid RoomRef. Configuration files and operator
// commands accept both forms; callers resolve aliases through the
// homeserver before acting on the room.
type RoomRef struct {
	id    RoomID
	alias RoomAlias
}

// ParseRoomRef accepts "!id:server" or "#alias:server".
func ParseRoomRef(raw string) (RoomRef, error) {
	if raw == "" {
		return RoomRef{}, fmt.Errorf("empty room reference")
	}
	switch raw[0] {
	case '!':
		roomID, err := ParseRoomID(raw)
		if err != nil {
			return RoomRef{}, err
		}
		return RoomRef{id: roomID}, nil
	case '#':
		alias, err := ParseRoomAlias(raw)
		if err != nil {
			return RoomRef{}, err
		}
		return RoomRef{alias: alias}, nil
	default:
		return RoomRef{}, fmt.Errorf("room reference must start with '!' or '#': %q", raw)
	}
}

// RoomRefFromID wraps an already-validated room ID.
func RoomRefFromID(roomID RoomID) RoomRef { return RoomRef{id: roomID} }

// IsAlias reports whether the reference needs alias resolution.
func (r RoomRef) IsAlias() bool { return !r.alias.IsZero() }

// IsZero reports whether the reference is unset.
func (r RoomRef) IsZero() bool { return r.id.IsZero() && r.alias.IsZero() }

// RoomID returns the room ID. Zero when the reference is an alias.
func (r RoomRef) RoomID() RoomID { return r.id }

// Alias returns the alias. Zero when the reference is a room ID.
func (r RoomRef) Alias() RoomAlias { return r.alias }

func (r RoomRef) String() string {
	if r.IsAlias() {
		return r.alias.String()
	}
	return r.id.String()
}

func (r RoomRef) MarshalText() ([]byte, error) { return []byte(r.String()), nil }

func (r *RoomRef) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*r = RoomRef{}
		return nil
	}
	parsed, err := ParseRoomRef(string(data))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
