// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/bureau-foundation/childserv/lib/command"
	"github.com/bureau-foundation/childserv/lib/ref"
	"github.com/bureau-foundation/childserv/messaging"
)

// alerter reports conditions an operator must act on: permanent
// propagation failures, lost welcome rooms, and failed room creation.
// Every alert is logged; it is also posted to the alert room when one
// is configured.
type alerter struct {
	sender  command.Sender
	room    ref.RoomID
	timeout time.Duration
	logger  *slog.Logger
}

// Alert logs message and posts it to the alert room. Posting failures
// are logged and otherwise ignored.
func (a *alerter) Alert(ctx context.Context, message string) {
	a.logger.Warn("operator alert", "message", message)
	if a.room.IsZero() {
		return
	}
	// The alert may be raised while the triggering task's context is
	// being cancelled; the post gets its own deadline.
	callContext, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.timeout)
	defer cancel()
	if _, err := a.sender.SendMessage(callContext, a.room, messaging.NewNotice("⚠ "+message)); err != nil {
		a.logger.Error("posting alert failed", "room_id", a.room.String(), "error", err)
	}
}
