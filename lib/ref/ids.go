// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import (
	"fmt"
	"strings"
)

// splitServer splits a sigil-prefixed Matrix identifier into its local
// part and server name. The sigil is checked by the caller's label so
// error messages name the kind of identifier being parsed.
func splitServer(raw string, sigil byte, label string) (local, server string, err error) {
	if raw == "" {
		return "", "", fmt.Errorf("empty %s", label)
	}
	if raw[0] != sigil {
		return "", "", fmt.Errorf("%s must start with '%c': %q", label, sigil, raw)
	}
	if strings.ContainsAny(raw, " \t\r\n") {
		return "", "", fmt.Errorf("%s contains whitespace: %q", label, raw)
	}
	colon := strings.IndexByte(raw, ':')
	if colon < 0 {
		return "", "", fmt.Errorf("%s missing ':server' suffix: %q", label, raw)
	}
	local = raw[1:colon]
	server = raw[colon+1:]
	if local == "" {
		return "", "", fmt.Errorf("%s has empty local part: %q", label, raw)
	}
	if server == "" {
		return "", "", fmt.Errorf("%s has empty server name: %q", label, raw)
	}
	return local, server, nil
}

// UserID is a validated Matrix user ID (e.g., "@alice:example.org").
// The zero value is not a valid user; use IsZero to check.
type UserID struct {
	id string
}

// ParseUserID validates a raw Matrix user ID string.
func ParseUserID(raw string) (UserID, error) {
	if _, _, err := splitServer(raw, '@', "user ID"); err != nil {
		return UserID{}, err
	}
	return UserID{id: raw}, nil
}

// MustParseUserID is ParseUserID for constants and tests. Panics on
// invalid input.
func MustParseUserID(raw string) UserID {
	userID, err := ParseUserID(raw)
	if err != nil {
		panic(fmt.Sprintf("ref.MustParseUserID(%q): %v", raw, err))
	}
	return userID
}

func (u UserID) String() string { return u.id }

// IsZero reports whether the UserID is unset.
func (u UserID) IsZero() bool { return u.id == "" }

// Localpart returns the part between '@' and ':'. Empty for the zero
// value.
func (u UserID) Localpart() string {
	if u.id == "" {
		return ""
	}
	local, _, _ := splitServer(u.id, '@', "user ID")
	return local
}

// Server returns the server name. Empty for the zero value.
func (u UserID) Server() string {
	if u.id == "" {
		return ""
	}
	_, server, _ := splitServer(u.id, '@', "user ID")
	return server
}

func (u UserID) MarshalText() ([]byte, error) { return []byte(u.id), nil }

func (u *UserID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*u = UserID{}
		return nil
	}
	parsed, err := ParseUserID(string(data))
	if err != nil {
		return err
	}
	*u = parsed
	return nil
}

// RoomID is a validated Matrix room ID (e.g., "!abc123:example.org").
// Room IDs are assigned by the homeserver; the bot only ever receives
// them from room creation, alias resolution, /sync, or configuration.
type RoomID struct {
	id string
}

// ParseRoomID validates a raw Matrix room ID string.
func ParseRoomID(raw string) (RoomID, error) {
	if _, _, err := splitServer(raw, '!', "room ID"); err != nil {
		return RoomID{}, err
	}
	return RoomID{id: raw}, nil
}

// MustParseRoomID is ParseRoomID for constants and tests.
func MustParseRoomID(raw string) RoomID {
	roomID, err := ParseRoomID(raw)
	if err != nil {
		panic(fmt.Sprintf("ref.MustParseRoomID(%q): %v", raw, err))
	}
	return roomID
}

func (r RoomID) String() string { return r.id }

// IsZero reports whether the RoomID is unset.
func (r RoomID) IsZero() bool { return r.id == "" }

func (r RoomID) MarshalText() ([]byte, error) { return []byte(r.id), nil }

func (r *RoomID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*r = RoomID{}
		return nil
	}
	parsed, err := ParseRoomID(string(data))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// RoomAlias is a validated Matrix room alias (e.g., "#lobby:example.org").
type RoomAlias struct {
	alias string
}

// ParseRoomAlias validates a raw Matrix room alias string.
func ParseRoomAlias(raw string) (RoomAlias, error) {
	if _, _, err := splitServer(raw, '#', "room alias"); err != nil {
		return RoomAlias{}, err
	}
	return RoomAlias{alias: raw}, nil
}

func (a RoomAlias) String() string { return a.alias }

// IsZero reports whether the alias is unset.
func (a RoomAlias) IsZero() bool { return a.alias == "" }

func (a RoomAlias) MarshalText() ([]byte, error) { return []byte(a.alias), nil }

func (a *RoomAlias) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*a = RoomAlias{}
		return nil
	}
	parsed, err := ParseRoomAlias(string(data))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// EventID is a Matrix event ID. Modern room versions use opaque
// "$base64" IDs without a server part, so only the sigil is checked.
type EventID struct {
	id string
}

// ParseEventID validates a raw Matrix event ID string.
func ParseEventID(raw string) (EventID, error) {
	if raw == "" {
		return EventID{}, fmt.Errorf("empty event ID")
	}
	if raw[0] != '$' || len(raw) == 1 {
		return EventID{}, fmt.Errorf("event ID must start with '$' and be non-empty: %q", raw)
	}
	return EventID{id: raw}, nil
}

func (e EventID) String() string { return e.id }

// IsZero reports whether the EventID is unset.
func (e EventID) IsZero() bool { return e.id == "" }

func (e EventID) MarshalText() ([]byte, error) { return []byte(e.id), nil }

func (e *EventID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*e = EventID{}
		return nil
	}
	parsed, err := ParseEventID(string(data))
	if err != nil {
		return err
	}
	*e = parsed
	return nil
}

// EventType is a Matrix event type string (e.g., "m.room.member").
// Not validated: the type namespace is open-ended.
type EventType string

func (t EventType) String() string { return string(t) }
