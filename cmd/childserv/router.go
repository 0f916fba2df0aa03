// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"

	"github.com/bureau-foundation/childserv/lib/command"
	"github.com/bureau-foundation/childserv/lib/ref"
	"github.com/bureau-foundation/childserv/lib/schema"
	"github.com/bureau-foundation/childserv/lib/welcome"
	"github.com/bureau-foundation/childserv/messaging"
)

// syncFilter restricts /sync to the events the router looks at.
// include_leave makes the homeserver report rooms the bot was kicked
// or banned from along with the membership event that removed it.
var syncFilter = buildSyncFilter()

func buildSyncFilter() string {
	timelineEventTypes := []ref.EventType{
		schema.EventTypeRoomMember,
		schema.EventTypeRoomMessage,
	}
	emptyTypes := []string{}

	filter := map[string]any{
		"room": map[string]any{
			"state": map[string]any{
				"types":             []ref.EventType{schema.EventTypeRoomMember},
				"lazy_load_members": true,
			},
			"timeline": map[string]any{
				"types": timelineEventTypes,
				"limit": 100,
			},
			"ephemeral": map[string]any{
				"types": emptyTypes,
			},
			"account_data": map[string]any{
				"types": emptyTypes,
			},
			"include_leave": true,
		},
		"presence": map[string]any{
			"types": emptyTypes,
		},
		"account_data": map[string]any{
			"types": emptyTypes,
		},
	}

	data, err := json.Marshal(filter)
	if err != nil {
		panic("building sync filter: " + err.Error())
	}
	return string(data)
}

// commandLane is the lane for commands issued in roomID, so replies
// in one room come back in the order the commands were sent.
func commandLane(roomID ref.RoomID) string {
	return "room:" + roomID.String()
}

// route hands one timeline event to the component that owns it.
func (b *Bot) route(roomID ref.RoomID, event messaging.Event) {
	switch event.Type {
	case schema.EventTypeRoomMember:
		b.routeMember(roomID, event)
	case schema.EventTypeRoomMessage:
		b.routeMessage(roomID, event)
	case schema.EventTypeEncrypted:
		b.logger.Debug("ignoring encrypted event", "room_id", roomID.String(), "event_id", event.EventID.String())
	}
}

// memberChange reduces an m.room.member event to a MemberChange.
// Returns false for events without a valid state_key.
func memberChange(roomID ref.RoomID, event messaging.Event) (schema.MemberChange, bool) {
	if event.StateKey == nil {
		return schema.MemberChange{}, false
	}
	target, err := ref.ParseUserID(*event.StateKey)
	if err != nil {
		return schema.MemberChange{}, false
	}
	change := schema.MemberChange{
		Room:    roomID,
		Sender:  event.Sender,
		Target:  target,
		Current: schema.Membership(stringField(event.Content, "membership")),
		Reason:  stringField(event.Content, "reason"),
	}
	if event.Unsigned != nil {
		change.Previous = schema.Membership(stringField(event.Unsigned.PrevContent, "membership"))
	}
	return change, true
}

func stringField(content map[string]any, key string) string {
	value, _ := content[key].(string)
	return value
}

func (b *Bot) routeMember(roomID ref.RoomID, event messaging.Event) {
	change, ok := memberChange(roomID, event)
	if !ok {
		b.logger.Warn("member event without a user state_key", "room_id", roomID.String(), "event_id", event.EventID.String())
		return
	}
	transition := schema.ClassifyMembership(change)
	target := change.Target

	switch transition {
	case schema.TransitionJoined:
		if target == b.self || !b.welcome.IsMonitored(roomID) {
			return
		}
		b.loop.Submit(welcome.LaneKey(target), func(ctx context.Context) {
			if err := b.welcome.OnMemberJoined(ctx, roomID, target); err != nil {
				b.logger.Error("welcome failed", "room_id", roomID.String(), "user_id", target.String(), "error", err)
			}
		})

	case schema.TransitionLeft, schema.TransitionKicked, schema.TransitionBanned:
		lane, tracked := b.welcome.LaneFor(roomID)
		if !tracked {
			return
		}
		if target == b.self {
			b.loop.Submit(lane, func(ctx context.Context) {
				b.welcome.OnMemberRemoved(ctx, roomID, transition)
			})
			return
		}
		b.loop.Submit(lane, func(ctx context.Context) {
			b.welcome.OnMemberLeft(ctx, roomID, target)
		})

	case schema.TransitionInvalid:
		b.logger.Warn("member event with unknown membership",
			"room_id", roomID.String(),
			"user_id", target.String(),
			"membership", string(change.Current),
		)

	case schema.TransitionUnchanged,
		schema.TransitionInvited,
		schema.TransitionKnocked,
		schema.TransitionUnbanned,
		schema.TransitionInviteRejected,
		schema.TransitionInviteRevoked,
		schema.TransitionKnockRetracted:
		// Nothing owns these.
	}
}

func (b *Bot) routeMessage(roomID ref.RoomID, event messaging.Event) {
	if event.Sender == b.self || !b.engine.IsPrincipal(event.Sender) {
		return
	}
	// Notices are bot output by convention; answering them invites loops.
	if stringField(event.Content, "msgtype") != messaging.MsgTypeText {
		return
	}
	body := stringField(event.Content, "body")
	if body == "" {
		return
	}
	source := command.Source{Room: roomID, Sender: event.Sender}
	b.loop.Submit(commandLane(roomID), func(ctx context.Context) {
		b.engine.Handle(ctx, source, body)
	})
}
