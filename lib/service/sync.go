// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bureau-foundation/childserv/lib/clock"
	"github.com/bureau-foundation/childserv/lib/ref"
	"github.com/bureau-foundation/childserv/lib/schema"
	"github.com/bureau-foundation/childserv/messaging"
)

// Syncer is the part of a Matrix session the sync loop drives.
type Syncer interface {
	Sync(ctx context.Context, options messaging.SyncOptions) (*messaging.SyncResponse, error)
}

// Joiner is the part of a Matrix session AcceptInvites needs.
type Joiner interface {
	JoinRoom(ctx context.Context, roomID ref.RoomID) (ref.RoomID, error)
}

// SyncConfig configures the Matrix /sync long-poll loop.
type SyncConfig struct {
	// Filter is the inline JSON filter restricting which events the
	// homeserver returns.
	Filter string

	// Timeout is the long-poll timeout. The homeserver holds the
	// connection open this long when no events are available.
	// Default: 30s.
	Timeout time.Duration

	// MaxBackoff caps the delay between retries on /sync errors. The
	// loop backs off exponentially from one second. Default: 30s.
	MaxBackoff time.Duration
}

// SyncHandler is called for each /sync response. The next poll starts
// after the handler returns, so handlers hand work off rather than
// performing Matrix calls inline.
type SyncHandler func(ctx context.Context, response *messaging.SyncResponse)

// InitialSync performs the first /sync with no since token. The
// response is a snapshot of current state; callers build their view
// of the world from it but do not replay its timeline as new events.
func InitialSync(ctx context.Context, session Syncer, filter string) (string, *messaging.SyncResponse, error) {
	response, err := session.Sync(ctx, messaging.SyncOptions{
		Filter: filter,
	})
	if err != nil {
		return "", nil, fmt.Errorf("initial sync: %w", err)
	}
	return response.NextBatch, response, nil
}

// RunSyncLoop polls /sync from sinceToken and calls handler for each
// response until ctx is cancelled. Errors are retried with exponential
// backoff from one second to config.MaxBackoff. A successful poll
// resets the backoff.
func RunSyncLoop(ctx context.Context, session Syncer, config SyncConfig, sinceToken string, handler SyncHandler, clk clock.Clock, logger *slog.Logger) {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	maxBackoff := config.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = 30 * time.Second
	}

	backoff := time.Second

	for {
		if ctx.Err() != nil {
			return
		}

		response, err := session.Sync(ctx, messaging.SyncOptions{
			Since:      sinceToken,
			Timeout:    int(timeout / time.Millisecond),
			SetTimeout: true,
			Filter:     config.Filter,
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("sync failed, retrying", "error", err, "backoff", backoff)
			select {
			case <-ctx.Done():
				return
			case <-clk.After(backoff):
			}
			backoff = min(backoff*2, maxBackoff)
			continue
		}

		backoff = time.Second
		sinceToken = response.NextBatch
		handler(ctx, response)
	}
}

// InviteSender returns the user who invited the bot, read from the
// invite_state of an invited room. Zero when the homeserver did not
// include the bot's own membership event.
func InviteSender(self ref.UserID, room messaging.InvitedRoom) ref.UserID {
	for _, event := range room.InviteState.Events {
		if event.Type != schema.EventTypeRoomMember || event.StateKey == nil || *event.StateKey != self.String() {
			continue
		}
		if membership, _ := event.Content["membership"].(string); membership == string(schema.MembershipInvite) {
			return event.Sender
		}
	}
	return ref.UserID{}
}

// AcceptInvites joins the invited rooms whose inviter passes accept
// and returns the rooms joined. A nil accept joins every room. Invites
// that fail the filter are left pending; failed joins are logged.
func AcceptInvites(ctx context.Context, session Joiner, self ref.UserID, invites map[ref.RoomID]messaging.InvitedRoom, accept func(inviter ref.UserID) bool, logger *slog.Logger) []ref.RoomID {
	var accepted []ref.RoomID
	for roomID, room := range invites {
		inviter := InviteSender(self, room)
		if accept != nil && !accept(inviter) {
			logger.Info("ignoring room invite", "room_id", roomID, "inviter", inviter)
			continue
		}
		logger.Info("accepting room invite", "room_id", roomID, "inviter", inviter)
		if _, err := session.JoinRoom(ctx, roomID); err != nil {
			logger.Error("failed to accept room invite",
				"room_id", roomID,
				"error", err,
			)
			continue
		}
		accepted = append(accepted, roomID)
	}
	return accepted
}
