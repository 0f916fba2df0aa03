// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/bureau-foundation/childserv/lib/bansync"
	"github.com/bureau-foundation/childserv/lib/command"
	"github.com/bureau-foundation/childserv/lib/config"
	"github.com/bureau-foundation/childserv/lib/ref"
	"github.com/bureau-foundation/childserv/lib/schema"
	"github.com/bureau-foundation/childserv/lib/welcome"
	"github.com/bureau-foundation/childserv/messaging"
)

// commandTree declares the operator command surface. Levels come from
// the permissions section of the configuration.
func (b *Bot) commandTree(prefix string, permissions config.Permissions) (*command.Tree, error) {
	return command.Build(prefix,
		command.Literal("help").
			Summary("list the commands you can run").
			Executes(b.cmdHelp),

		command.Literal("ban",
			command.Argument("user", command.ArgUserID,
				command.Argument("reason", command.ArgGreedyString).Executes(b.cmdBan),
			).Executes(b.cmdBan),
		).Level(permissions.Ban).Summary("ban a user in every target room"),
		command.Literal("unban",
			command.Argument("user", command.ArgUserID).Executes(b.cmdUnban),
		).Level(permissions.Unban).Summary("lift a ban in every target room"),
		command.Literal("bans").
			Level(permissions.View).
			Summary("show the ban list").
			Executes(b.cmdBans),
		command.Literal("banstatus",
			command.Argument("user", command.ArgUserID).Executes(b.cmdBanStatus),
		).Level(permissions.View).Summary("show per-room propagation for a user"),
		command.Literal("retry",
			command.Argument("user", command.ArgUserID).Executes(b.cmdRetry),
		).Level(permissions.Ban).Summary("retry rooms where propagation gave up"),
		command.Literal("reconcile").
			Level(permissions.Ban).
			Summary("retry every due propagation now").
			Executes(b.cmdReconcile),

		command.Literal("kick",
			command.Argument("room", command.ArgRoom,
				command.Argument("user", command.ArgUserID,
					command.Argument("reason", command.ArgGreedyString).Executes(b.cmdKick),
				).Executes(b.cmdKick),
			),
		).Level(permissions.Kick).Summary("kick a user from a room"),

		command.Literal("room",
			command.Literal("add",
				command.Argument("room", command.ArgRoom,
					command.Argument("mode", command.ArgMode).Executes(b.cmdRoomAdd),
				),
			).Level(permissions.Rooms).Summary("manage a room as monitored or ban_target"),
			command.Literal("remove",
				command.Argument("room", command.ArgRoom).Executes(b.cmdRoomRemove),
			).Level(permissions.Rooms).Summary("stop managing a room"),
			command.Literal("list").
				Level(permissions.View).
				Summary("list managed rooms").
				Executes(b.cmdRoomList),
		),

		command.Literal("welcome",
			command.Literal("list").
				Level(permissions.View).
				Summary("list open welcome rooms").
				Executes(b.cmdWelcomeList),
			command.Literal("close",
				command.Argument("room", command.ArgRoom).Executes(b.cmdWelcomeClose),
			).Level(permissions.Welcome).Summary("close a welcome room now"),
			command.Literal("extend",
				command.Argument("room", command.ArgRoom,
					command.Argument("duration", command.ArgDuration).Executes(b.cmdWelcomeExtend),
				),
			).Level(permissions.Welcome).Summary("keep a welcome room open longer"),
		),

		command.Literal("powercheck").
			Level(permissions.View).
			Summary("check the bot can moderate its rooms").
			Executes(b.cmdPowerCheck),
	)
}

func issuer(invocation *command.Invocation) bansync.Issuer {
	return bansync.Issuer{UserID: invocation.Source.Sender, Level: invocation.Level}
}

// commandError turns a component's permission denial into the
// engine's, so the reply is the same "not permitted" either way.
func commandError(invocation *command.Invocation, err error) error {
	var permissionError *bansync.PermissionError
	if errors.As(err, &permissionError) {
		return &command.PermissionError{
			Command:  invocation.Command(),
			Required: permissionError.Required,
			Actual:   permissionError.Actual,
		}
	}
	return err
}

func (b *Bot) cmdHelp(_ context.Context, invocation *command.Invocation) (string, error) {
	return b.engine.Tree().Help(invocation.Level), nil
}

func (b *Bot) cmdBan(ctx context.Context, invocation *command.Invocation) (string, error) {
	subject := invocation.UserID("user")
	if subject == b.self || b.engine.IsPrincipal(subject) {
		return "", fmt.Errorf("refusing to ban %s: it is an operator of this bot", subject)
	}
	entry, err := b.bans.IssueBan(ctx, subject, invocation.String("reason"), issuer(invocation))
	if errors.Is(err, bansync.ErrAlreadyBanned) {
		return fmt.Sprintf("%s is already banned.", subject), nil
	}
	if err != nil {
		return "", commandError(invocation, err)
	}
	return fmt.Sprintf("Banned %s. Propagating to %d room(s).", entry.Subject, len(b.bans.Targets())), nil
}

func (b *Bot) cmdUnban(ctx context.Context, invocation *command.Invocation) (string, error) {
	subject := invocation.UserID("user")
	err := b.bans.RevokeBan(ctx, subject, issuer(invocation))
	if errors.Is(err, bansync.ErrNotFound) {
		return fmt.Sprintf("%s is not on the ban list.", subject), nil
	}
	if err != nil {
		return "", commandError(invocation, err)
	}
	return fmt.Sprintf("Unbanned %s. Propagating to %d room(s).", subject, len(b.bans.Targets())), nil
}

func (b *Bot) cmdBans(ctx context.Context, _ *command.Invocation) (string, error) {
	entries, err := b.bans.Entries(ctx)
	if err != nil {
		return "", err
	}
	summary, err := b.bans.Summary(ctx)
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "The ban list is empty.", nil
	}

	var reply strings.Builder
	fmt.Fprintf(&reply, "%d ban(s); records: %d applied, %d pending, %d retrying, %d gave up",
		summary.Entries, summary.Applied, summary.Pending, summary.Failed, summary.Permanent)
	now := b.clock.Now()
	for _, entry := range entries {
		fmt.Fprintf(&reply, "\n%s", entry.Subject)
		if entry.Reason != "" {
			fmt.Fprintf(&reply, " (%s)", entry.Reason)
		}
		fmt.Fprintf(&reply, " by %s %s", entry.IssuedBy, humanize.RelTime(entry.IssuedAt, now, "ago", "from now"))
	}
	return reply.String(), nil
}

func (b *Bot) cmdBanStatus(ctx context.Context, invocation *command.Invocation) (string, error) {
	subject := invocation.UserID("user")
	records, err := b.bans.Records(ctx, subject)
	if err != nil {
		return "", err
	}
	if len(records) == 0 {
		return fmt.Sprintf("No propagation records for %s.", subject), nil
	}

	var reply strings.Builder
	fmt.Fprintf(&reply, "Propagation for %s:", subject)
	now := b.clock.Now()
	for _, record := range records {
		fmt.Fprintf(&reply, "\n%s %s: %s", record.Action, record.Target, record.Status)
		switch {
		case record.Status == bansync.StatusFailed && record.Permanent:
			fmt.Fprintf(&reply, " permanently after %d attempt(s): %s", record.Attempts, record.LastError)
		case record.Status == bansync.StatusFailed:
			fmt.Fprintf(&reply, " (attempt %d, next %s): %s", record.Attempts,
				humanize.RelTime(record.NextAttemptAt, now, "ago", "from now"), record.LastError)
		}
	}
	return reply.String(), nil
}

func (b *Bot) cmdRetry(ctx context.Context, invocation *command.Invocation) (string, error) {
	subject := invocation.UserID("user")
	rearmed, err := b.bans.RetryPermanent(ctx, subject)
	if errors.Is(err, bansync.ErrNotFound) {
		return fmt.Sprintf("No propagation records for %s.", subject), nil
	}
	if err != nil {
		return "", err
	}
	if rearmed == 0 {
		return fmt.Sprintf("Nothing to retry for %s.", subject), nil
	}
	return fmt.Sprintf("Retrying %d room(s) for %s.", rearmed, subject), nil
}

func (b *Bot) cmdReconcile(ctx context.Context, _ *command.Invocation) (string, error) {
	queued, err := b.bans.Reconcile(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Queued propagation for %d user(s).", queued), nil
}

func (b *Bot) cmdKick(ctx context.Context, invocation *command.Invocation) (string, error) {
	roomID, err := b.resolve(ctx, invocation.Room("room"))
	if err != nil {
		return "", fmt.Errorf("resolving %s: %w", invocation.Room("room"), err)
	}
	target := invocation.UserID("user")
	if target == b.self {
		return "", errors.New("refusing to kick myself")
	}

	callContext, cancel := context.WithTimeout(ctx, b.callTimeout)
	defer cancel()
	if err := b.session.KickUser(callContext, roomID, target, invocation.String("reason")); err != nil {
		return "", fmt.Errorf("kicking %s from %s: %w", target, roomID, err)
	}
	return fmt.Sprintf("Kicked %s from %s.", target, roomID), nil
}

func (b *Bot) cmdRoomAdd(ctx context.Context, invocation *command.Invocation) (string, error) {
	roomRef := invocation.Room("room")
	roomID, err := b.resolve(ctx, roomRef)
	if err != nil {
		return "", fmt.Errorf("resolving %s: %w", roomRef, err)
	}

	// The bot must be in a room to see its joins or to ban there.
	// Joining a room the bot is already in is a no-op.
	callContext, cancel := context.WithTimeout(ctx, b.callTimeout)
	_, err = b.session.JoinRoom(callContext, roomID)
	cancel()
	if err != nil {
		return "", fmt.Errorf("joining %s: %w", roomID, err)
	}

	switch mode := invocation.Mode("mode"); mode {
	case command.ModeMonitored:
		if !b.welcome.AddMonitored(roomID) {
			return fmt.Sprintf("%s is already monitored.", roomID), nil
		}
		return fmt.Sprintf("Now welcoming new members of %s.", roomID), nil
	case command.ModeBanTarget:
		added, err := b.bans.AddTarget(ctx, roomID)
		if err != nil {
			return "", err
		}
		if !added {
			return fmt.Sprintf("%s is already a ban target.", roomID), nil
		}
		return fmt.Sprintf("Now replicating the ban list to %s.", roomID), nil
	default:
		return "", fmt.Errorf("unknown room mode %q", mode)
	}
}

func (b *Bot) cmdRoomRemove(ctx context.Context, invocation *command.Invocation) (string, error) {
	roomRef := invocation.Room("room")
	roomID, err := b.resolve(ctx, roomRef)
	if err != nil {
		return "", fmt.Errorf("resolving %s: %w", roomRef, err)
	}

	var removed []string
	if b.welcome.RemoveMonitored(roomID) {
		removed = append(removed, string(command.ModeMonitored))
	}
	wasTarget, err := b.bans.RemoveTarget(ctx, roomID)
	if err != nil {
		return "", err
	}
	if wasTarget {
		removed = append(removed, string(command.ModeBanTarget))
	}
	if len(removed) == 0 {
		return fmt.Sprintf("%s is not managed.", roomID), nil
	}
	return fmt.Sprintf("%s is no longer %s.", roomID, strings.Join(removed, " or ")), nil
}

func (b *Bot) cmdRoomList(context.Context, *command.Invocation) (string, error) {
	var reply strings.Builder
	writeRooms(&reply, "Monitored", b.welcome.Monitored())
	reply.WriteString("\n")
	writeRooms(&reply, "Ban targets", b.bans.Targets())
	return reply.String(), nil
}

func writeRooms(reply *strings.Builder, label string, rooms []ref.RoomID) {
	if len(rooms) == 0 {
		fmt.Fprintf(reply, "%s: none", label)
		return
	}
	fmt.Fprintf(reply, "%s:", label)
	for _, roomID := range rooms {
		fmt.Fprintf(reply, "\n  %s", roomID)
	}
}

func (b *Bot) cmdWelcomeList(context.Context, *command.Invocation) (string, error) {
	rooms := b.welcome.Rooms()
	if len(rooms) == 0 {
		return "No welcome rooms are open.", nil
	}
	var reply strings.Builder
	fmt.Fprintf(&reply, "%d welcome room(s):", len(rooms))
	for _, room := range rooms {
		fmt.Fprintf(&reply, "\n%s", b.welcome.Describe(room))
	}
	return reply.String(), nil
}

// welcomeRoom resolves the room argument and returns it with the lane
// its events run on.
func (b *Bot) welcomeRoom(ctx context.Context, invocation *command.Invocation) (ref.RoomID, string, error) {
	roomRef := invocation.Room("room")
	roomID, err := b.resolve(ctx, roomRef)
	if err != nil {
		return ref.RoomID{}, "", fmt.Errorf("resolving %s: %w", roomRef, err)
	}
	lane, ok := b.welcome.LaneFor(roomID)
	if !ok {
		return ref.RoomID{}, "", fmt.Errorf("%s is not an open welcome room", roomID)
	}
	return roomID, lane, nil
}

func (b *Bot) cmdWelcomeClose(ctx context.Context, invocation *command.Invocation) (string, error) {
	roomID, lane, err := b.welcomeRoom(ctx, invocation)
	if err != nil {
		return "", err
	}
	err = b.onLane(ctx, lane, func(ctx context.Context) error {
		return b.welcome.Close(ctx, roomID)
	})
	if errors.Is(err, welcome.ErrNotTracked) {
		return fmt.Sprintf("%s was already closed.", roomID), nil
	}
	if err != nil {
		return "", fmt.Errorf("closing %s: %w", roomID, err)
	}
	return fmt.Sprintf("Closed %s.", roomID), nil
}

func (b *Bot) cmdWelcomeExtend(ctx context.Context, invocation *command.Invocation) (string, error) {
	roomID, lane, err := b.welcomeRoom(ctx, invocation)
	if err != nil {
		return "", err
	}
	extra := invocation.Duration("duration")
	var leaveAt string
	err = b.onLane(ctx, lane, func(context.Context) error {
		deadline, err := b.welcome.Extend(roomID, extra)
		if err != nil {
			return err
		}
		leaveAt = humanize.RelTime(deadline, b.clock.Now(), "ago", "from now")
		return nil
	})
	if errors.Is(err, welcome.ErrNotTracked) {
		return "", fmt.Errorf("%s is not an open welcome room", roomID)
	}
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s now closes %s.", roomID, leaveAt), nil
}

// cmdPowerCheck reports, for every managed room, whether the bot's
// power level lets it do what the room's mode needs.
func (b *Bot) cmdPowerCheck(ctx context.Context, _ *command.Invocation) (string, error) {
	type check struct {
		roomID ref.RoomID
		mode   command.Mode
	}
	var checks []check
	for _, roomID := range b.welcome.Monitored() {
		checks = append(checks, check{roomID, command.ModeMonitored})
	}
	for _, roomID := range b.bans.Targets() {
		checks = append(checks, check{roomID, command.ModeBanTarget})
	}
	if len(checks) == 0 {
		return "No managed rooms.", nil
	}

	var reply strings.Builder
	problems := 0
	for index, item := range checks {
		if index > 0 {
			reply.WriteString("\n")
		}
		callContext, cancel := context.WithTimeout(ctx, b.callTimeout)
		levels, err := messaging.GetState[schema.PowerLevels](callContext, b.session, item.roomID, schema.EventTypePowerLevels, "")
		cancel()
		if err != nil {
			problems++
			fmt.Fprintf(&reply, "%s (%s): cannot read power levels: %v", item.roomID, item.mode, err)
			continue
		}
		level := levels.UserLevel(b.self)
		switch item.mode {
		case command.ModeBanTarget:
			if !levels.CanBan(b.self) {
				problems++
				fmt.Fprintf(&reply, "%s (%s): level %d, needs %d to ban", item.roomID, item.mode, level, levels.BanLevel())
				continue
			}
		case command.ModeMonitored:
			if !levels.CanKick(b.self) {
				fmt.Fprintf(&reply, "%s (%s): level %d, ok (kick needs %d)", item.roomID, item.mode, level, levels.KickLevel())
				continue
			}
		}
		fmt.Fprintf(&reply, "%s (%s): level %d, ok", item.roomID, item.mode, level)
	}
	if problems > 0 {
		return fmt.Sprintf("%d problem(s):\n%s", problems, reply.String()), nil
	}
	return reply.String(), nil
}
