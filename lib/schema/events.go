// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package schema

import "github.com/bureau-foundation/childserv/lib/ref"

// Matrix event types the bot reads or writes.
const (
	EventTypeRoomMember  ref.EventType = "m.room.member"
	EventTypeRoomMessage ref.EventType = "m.room.message"
	EventTypeEncrypted   ref.EventType = "m.room.encrypted"
	EventTypePowerLevels ref.EventType = "m.room.power_levels"
	EventTypeRoomName    ref.EventType = "m.room.name"
)

// MessageContent is the parsed subset of an m.room.message content
// the command engine looks at.
type MessageContent struct {
	MsgType string `json:"msgtype"`
	Body    string `json:"body"`
	Format  string `json:"format,omitempty"`
}

// MemberContent is the content of an m.room.member state event.
type MemberContent struct {
	Membership  Membership `json:"membership"`
	DisplayName string     `json:"displayname,omitempty"`
	Reason      string     `json:"reason,omitempty"`
	IsDirect    bool       `json:"is_direct,omitempty"`
}
