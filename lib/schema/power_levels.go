// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package schema

import "github.com/bureau-foundation/childserv/lib/ref"

// PowerLevels is a typed representation of the Matrix m.room.power_levels
// state event content. Pointer-to-int fields distinguish "not set" (the
// protocol default applies) from an explicit 0.
type PowerLevels struct {
	Users         map[string]int `json:"users,omitempty"`
	UsersDefault  *int           `json:"users_default,omitempty"`
	Events        map[string]int `json:"events,omitempty"`
	EventsDefault *int           `json:"events_default,omitempty"`
	StateDefault  *int           `json:"state_default,omitempty"`
	Invite        *int           `json:"invite,omitempty"`
	Ban           *int           `json:"ban,omitempty"`
	Kick          *int           `json:"kick,omitempty"`
	Redact        *int           `json:"redact,omitempty"`
}

// Protocol defaults for unset fields.
const (
	defaultModerationLevel = 50
	defaultInviteLevel     = 0
)

// UserLevel returns the power level of userID: the explicit entry if
// present, else users_default, else 0.
func (powerLevels *PowerLevels) UserLevel(userID ref.UserID) int {
	if level, ok := powerLevels.Users[userID.String()]; ok {
		return level
	}
	return levelOr(powerLevels.UsersDefault, 0)
}

// BanLevel is the level required to ban and unban.
func (powerLevels *PowerLevels) BanLevel() int {
	return levelOr(powerLevels.Ban, defaultModerationLevel)
}

// KickLevel is the level required to kick.
func (powerLevels *PowerLevels) KickLevel() int {
	return levelOr(powerLevels.Kick, defaultModerationLevel)
}

// InviteLevel is the level required to invite.
func (powerLevels *PowerLevels) InviteLevel() int {
	return levelOr(powerLevels.Invite, defaultInviteLevel)
}

// CanBan reports whether userID may ban in this room. A user can only
// ban members with a strictly lower level; that check needs the
// subject and is left to the homeserver.
func (powerLevels *PowerLevels) CanBan(userID ref.UserID) bool {
	return powerLevels.UserLevel(userID) >= powerLevels.BanLevel()
}

// CanKick reports whether userID may kick in this room.
func (powerLevels *PowerLevels) CanKick(userID ref.UserID) bool {
	return powerLevels.UserLevel(userID) >= powerLevels.KickLevel()
}

func levelOr(value *int, fallback int) int {
	if value == nil {
		return fallback
	}
	return *value
}
