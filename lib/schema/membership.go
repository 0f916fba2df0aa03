// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package schema

import (
	"fmt"

	"github.com/bureau-foundation/childserv/lib/ref"
)

// Membership is the value of the membership field of m.room.member.
type Membership string

const (
	MembershipJoin   Membership = "join"
	MembershipLeave  Membership = "leave"
	MembershipBan    Membership = "ban"
	MembershipInvite Membership = "invite"
	MembershipKnock  Membership = "knock"
)

// Valid reports whether m is one of the five defined values.
func (m Membership) Valid() bool {
	switch m {
	case MembershipJoin, MembershipLeave, MembershipBan, MembershipInvite, MembershipKnock:
		return true
	}
	return false
}

// MemberChange is one m.room.member event reduced to the facts that
// decide its meaning.
type MemberChange struct {
	Room   ref.RoomID
	Sender ref.UserID
	// Target is the state_key: the user whose membership changed.
	Target ref.UserID
	// Previous is empty when the homeserver sent no prev_content (the
	// user had no prior membership in the room).
	Previous Membership
	Current  Membership
	Reason   string
}

// SelfInitiated reports whether the target made the change themselves.
func (c MemberChange) SelfInitiated() bool { return c.Sender == c.Target }

// Transition is the closed set of membership changes.
type Transition int

const (
	// TransitionUnchanged is a profile update: same membership before
	// and after (display name or avatar change).
	TransitionUnchanged Transition = iota
	TransitionJoined
	TransitionInvited
	TransitionKnocked
	// TransitionLeft is a voluntary departure by a joined member.
	TransitionLeft
	// TransitionKicked is removal of a joined member by someone else.
	TransitionKicked
	TransitionBanned
	TransitionUnbanned
	// TransitionInviteRejected is the invitee declining.
	TransitionInviteRejected
	// TransitionInviteRevoked is someone else withdrawing an invite.
	TransitionInviteRevoked
	// TransitionKnockRetracted covers a knock withdrawn by the knocker
	// or denied by a moderator.
	TransitionKnockRetracted
	// TransitionInvalid is an event whose membership value is unknown.
	TransitionInvalid
)

var transitionNames = [...]string{
	TransitionUnchanged:      "unchanged",
	TransitionJoined:         "joined",
	TransitionInvited:        "invited",
	TransitionKnocked:        "knocked",
	TransitionLeft:           "left",
	TransitionKicked:         "kicked",
	TransitionBanned:         "banned",
	TransitionUnbanned:       "unbanned",
	TransitionInviteRejected: "invite_rejected",
	TransitionInviteRevoked:  "invite_revoked",
	TransitionKnockRetracted: "knock_retracted",
	TransitionInvalid:        "invalid",
}

func (t Transition) String() string {
	if t >= 0 && int(t) < len(transitionNames) {
		return transitionNames[t]
	}
	return fmt.Sprintf("Transition(%d)", int(t))
}

// Involuntary reports whether the target was removed from the room by
// someone else.
func (t Transition) Involuntary() bool {
	return t == TransitionKicked || t == TransitionBanned
}

// Departure reports whether the target no longer has join membership
// after a transition in which they had it before.
func (t Transition) Departure() bool {
	return t == TransitionLeft || t == TransitionKicked || t == TransitionBanned
}

// ClassifyMembership maps a membership change onto a Transition.
func ClassifyMembership(change MemberChange) Transition {
	if !change.Current.Valid() || (change.Previous != "" && !change.Previous.Valid()) {
		return TransitionInvalid
	}
	if change.Current == change.Previous {
		return TransitionUnchanged
	}

	switch change.Current {
	case MembershipJoin:
		return TransitionJoined
	case MembershipInvite:
		return TransitionInvited
	case MembershipKnock:
		return TransitionKnocked
	case MembershipBan:
		return TransitionBanned
	case MembershipLeave:
		switch change.Previous {
		case MembershipBan:
			return TransitionUnbanned
		case MembershipInvite:
			if change.SelfInitiated() {
				return TransitionInviteRejected
			}
			return TransitionInviteRevoked
		case MembershipKnock:
			return TransitionKnockRetracted
		default:
			// Previous is join or unknown. A leave with no prior
			// membership only happens on malformed history; treat it
			// as a departure so tracked rooms are released.
			if change.SelfInitiated() {
				return TransitionLeft
			}
			return TransitionKicked
		}
	}
	return TransitionInvalid
}
