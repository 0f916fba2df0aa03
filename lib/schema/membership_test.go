// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package schema

import (
	"testing"

	"github.com/bureau-foundation/childserv/lib/ref"
)

func TestClassifyMembership(t *testing.T) {
	t.Parallel()

	alice := ref.MustParseUserID("@alice:test")
	moderator := ref.MustParseUserID("@mod:test")

	tests := []struct {
		name     string
		sender   ref.UserID
		previous Membership
		current  Membership
		expected Transition
	}{
		{"first join", alice, "", MembershipJoin, TransitionJoined},
		{"join after invite", alice, MembershipInvite, MembershipJoin, TransitionJoined},
		{"rejoin after leave", alice, MembershipLeave, MembershipJoin, TransitionJoined},
		{"profile change", alice, MembershipJoin, MembershipJoin, TransitionUnchanged},
		{"invited", moderator, "", MembershipInvite, TransitionInvited},
		{"knock", alice, "", MembershipKnock, TransitionKnocked},
		{"voluntary leave", alice, MembershipJoin, MembershipLeave, TransitionLeft},
		{"kick", moderator, MembershipJoin, MembershipLeave, TransitionKicked},
		{"ban from join", moderator, MembershipJoin, MembershipBan, TransitionBanned},
		{"ban without prior membership", moderator, "", MembershipBan, TransitionBanned},
		{"unban", moderator, MembershipBan, MembershipLeave, TransitionUnbanned},
		{"invite rejected", alice, MembershipInvite, MembershipLeave, TransitionInviteRejected},
		{"invite revoked", moderator, MembershipInvite, MembershipLeave, TransitionInviteRevoked},
		{"knock withdrawn", alice, MembershipKnock, MembershipLeave, TransitionKnockRetracted},
		{"unknown membership", alice, MembershipJoin, Membership("vanish"), TransitionInvalid},
		{"unknown previous", alice, Membership("vanish"), MembershipJoin, TransitionInvalid},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()
			got := ClassifyMembership(MemberChange{
				Sender:   test.sender,
				Target:   alice,
				Previous: test.previous,
				Current:  test.current,
			})
			if got != test.expected {
				t.Errorf("ClassifyMembership = %s, want %s", got, test.expected)
			}
		})
	}
}

func TestTransitionPredicates(t *testing.T) {
	t.Parallel()

	involuntary := map[Transition]bool{TransitionKicked: true, TransitionBanned: true}
	departure := map[Transition]bool{TransitionLeft: true, TransitionKicked: true, TransitionBanned: true}
	for transition := TransitionUnchanged; transition <= TransitionInvalid; transition++ {
		if transition.Involuntary() != involuntary[transition] {
			t.Errorf("%s.Involuntary() = %v", transition, transition.Involuntary())
		}
		if transition.Departure() != departure[transition] {
			t.Errorf("%s.Departure() = %v", transition, transition.Departure())
		}
	}
	if got := Transition(99).String(); got != "Transition(99)" {
		t.Errorf("out of range String() = %q", got)
	}
}
