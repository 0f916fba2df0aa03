// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bureau-foundation/childserv/lib/bansync"
	"github.com/bureau-foundation/childserv/lib/clock"
	"github.com/bureau-foundation/childserv/lib/command"
	"github.com/bureau-foundation/childserv/lib/config"
	"github.com/bureau-foundation/childserv/lib/dispatch"
	"github.com/bureau-foundation/childserv/lib/ref"
	"github.com/bureau-foundation/childserv/lib/schedule"
	"github.com/bureau-foundation/childserv/lib/service"
	"github.com/bureau-foundation/childserv/lib/welcome"
	"github.com/bureau-foundation/childserv/messaging"
)

// reconcileKey is the scheduler key and lane of the periodic
// reconciliation job.
const reconcileKey = "bansync:reconcile"

// inviteLane serializes invite handling.
const inviteLane = "invites"

// Session is every Matrix call the bot makes.
// *messaging.DirectSession satisfies it.
type Session interface {
	CreateRoom(ctx context.Context, request messaging.CreateRoomRequest) (*messaging.CreateRoomResponse, error)
	SendMessage(ctx context.Context, roomID ref.RoomID, content messaging.MessageContent) (ref.EventID, error)
	JoinRoom(ctx context.Context, roomID ref.RoomID) (ref.RoomID, error)
	LeaveRoom(ctx context.Context, roomID ref.RoomID) error
	KickUser(ctx context.Context, roomID ref.RoomID, userID ref.UserID, reason string) error
	BanUser(ctx context.Context, roomID ref.RoomID, userID ref.UserID, reason string) error
	UnbanUser(ctx context.Context, roomID ref.RoomID, userID ref.UserID) error
	GetStateEvent(ctx context.Context, roomID ref.RoomID, eventType ref.EventType, stateKey string) (json.RawMessage, error)
	ResolveRoom(ctx context.Context, roomRef ref.RoomRef) (ref.RoomID, error)
}

// BotConfig holds the dependencies of a Bot.
type BotConfig struct {
	Config  *config.Config
	Session Session
	// Self is the bot's validated user ID.
	Self   ref.UserID
	Store  bansync.Store
	Clock  clock.Clock
	Logger *slog.Logger
}

// Bot owns the event loop, the scheduler, and the components they
// drive.
type Bot struct {
	self        ref.UserID
	session     Session
	clock       clock.Clock
	logger      *slog.Logger
	callTimeout time.Duration
	interval    time.Duration
	adminRooms  []ref.RoomID

	loop      *dispatch.Loop
	scheduler *schedule.Scheduler
	alerts    *alerter
	welcome   *welcome.Manager
	bans      *bansync.Synchronizer
	engine    *command.Engine
}

// NewBot resolves every configured room and assembles the components.
// No timers are installed and nothing is restored until Start.
func NewBot(ctx context.Context, botConfig BotConfig) (*Bot, error) {
	cfg := botConfig.Config
	if botConfig.Clock == nil {
		botConfig.Clock = clock.Real()
	}
	if botConfig.Logger == nil {
		botConfig.Logger = slog.Default()
	}
	logger := botConfig.Logger

	bot := &Bot{
		self:        botConfig.Self,
		session:     botConfig.Session,
		clock:       botConfig.Clock,
		logger:      logger,
		callTimeout: cfg.Gateway.CallTimeout,
		interval:    cfg.Bans.ReconcileInterval,
	}

	var err error
	if bot.adminRooms, err = bot.resolveAll(ctx, "admin_rooms", cfg.AdminRooms); err != nil {
		return nil, err
	}
	monitored, err := bot.resolveAll(ctx, "welcome.monitored_rooms", cfg.Welcome.MonitoredRooms)
	if err != nil {
		return nil, err
	}
	targets, err := bot.resolveAll(ctx, "bans.target_rooms", cfg.Bans.TargetRooms)
	if err != nil {
		return nil, err
	}
	var alertRoom ref.RoomID
	if !cfg.AlertRoom.IsZero() {
		if alertRoom, err = bot.resolve(ctx, cfg.AlertRoom); err != nil {
			return nil, fmt.Errorf("resolving alert_room %s: %w", cfg.AlertRoom, err)
		}
	}

	bot.loop = dispatch.New(logger)
	bot.scheduler = schedule.New(bot.clock, bot.loop, logger)
	bot.alerts = &alerter{
		sender:  bot.session,
		room:    alertRoom,
		timeout: bot.callTimeout,
		logger:  logger,
	}

	bot.welcome, err = welcome.NewManager(welcome.Config{
		Gateway:           bot.session,
		Scheduler:         bot.scheduler,
		Clock:             bot.clock,
		Self:              bot.self,
		Monitored:         monitored,
		GracePeriod:       cfg.Welcome.GracePeriod,
		MaxRejoinAttempts: cfg.Welcome.MaxRejoinAttempts,
		LeaveWhenAlone:    cfg.Welcome.LeaveWhenAlone,
		LeaveRetryDelay:   cfg.Welcome.LeaveRetryDelay,
		CallTimeout:       bot.callTimeout,
		RoomName:          cfg.Welcome.RoomName,
		Topic:             cfg.Welcome.Topic,
		Message:           cfg.Welcome.Message,
		SnapshotPath:      cfg.SnapshotPath(),
		Alert:             bot.alerts.Alert,
		Logger:            logger.With("component", "welcome"),
	})
	if err != nil {
		return nil, err
	}

	bot.bans, err = bansync.New(bansync.Config{
		Store:       botConfig.Store,
		Gateway:     bot.session,
		Loop:        bot.loop,
		Clock:       bot.clock,
		Targets:     targets,
		BanLevel:    cfg.Permissions.Ban,
		UnbanLevel:  cfg.Permissions.Unban,
		BackoffBase: cfg.Bans.BackoffBase,
		BackoffMax:  cfg.Bans.BackoffMax,
		MaxAttempts: cfg.Bans.MaxAttempts,
		Workers:     cfg.Bans.Workers,
		CallTimeout: bot.callTimeout,
		Alert:       bot.alerts.Alert,
		Logger:      logger.With("component", "bansync"),
	})
	if err != nil {
		return nil, err
	}

	tree, err := bot.commandTree(cfg.CommandPrefix, cfg.Permissions)
	if err != nil {
		return nil, err
	}
	bot.engine = command.NewEngine(command.EngineConfig{
		Tree:       tree,
		Principals: cfg.Principals(),
		AdminRooms: bot.adminRooms,
		Sender:     bot.session,
		Logger:     logger.With("component", "command"),
	})
	return bot, nil
}

func (b *Bot) resolve(ctx context.Context, roomRef ref.RoomRef) (ref.RoomID, error) {
	if !roomRef.IsAlias() {
		return roomRef.RoomID(), nil
	}
	callContext, cancel := context.WithTimeout(ctx, b.callTimeout)
	defer cancel()
	return b.session.ResolveRoom(callContext, roomRef)
}

func (b *Bot) resolveAll(ctx context.Context, field string, refs []ref.RoomRef) ([]ref.RoomID, error) {
	rooms := make([]ref.RoomID, 0, len(refs))
	var errs []error
	for _, roomRef := range refs {
		roomID, err := b.resolve(ctx, roomRef)
		if err != nil {
			errs = append(errs, fmt.Errorf("resolving %s entry %s: %w", field, roomRef, err))
			continue
		}
		rooms = append(rooms, roomID)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return rooms, nil
}

// Start restores persisted state and installs the reconciliation job.
// Call before the initial /sync.
func (b *Bot) Start(ctx context.Context) error {
	restored, err := b.welcome.Restore()
	if err != nil {
		return err
	}
	if err := b.bans.Init(ctx); err != nil {
		return fmt.Errorf("aligning ban records with targets: %w", err)
	}

	b.scheduler.Every(reconcileKey, b.interval, b.reconcile)
	// Pick up whatever a previous run left pending without waiting a
	// full interval.
	b.loop.Submit(reconcileKey, b.reconcile)

	b.logger.Info("bot started",
		"user_id", b.self.String(),
		"welcome_rooms", restored,
		"monitored_rooms", len(b.welcome.Monitored()),
		"ban_targets", len(b.bans.Targets()),
		"reconcile_interval", b.interval,
	)
	return nil
}

func (b *Bot) reconcile(ctx context.Context) {
	if _, err := b.bans.Reconcile(ctx); err != nil {
		b.logger.Error("reconciliation failed", "error", err)
	}
}

// Stop cancels every timer. Queued tasks are drained by the loop's Run.
func (b *Bot) Stop() {
	b.scheduler.Stop()
}

// HandleInitialSync processes the startup snapshot. Only pending
// invites are acted on: the timeline is history.
func (b *Bot) HandleInitialSync(_ context.Context, response *messaging.SyncResponse) {
	if len(response.Rooms.Invite) > 0 {
		b.acceptInvites(response.Rooms.Invite)
	}
	b.logger.Info("initial sync processed",
		"joined_rooms", len(response.Rooms.Join),
		"invites", len(response.Rooms.Invite),
	)
}

// HandleSync routes one incremental /sync response. It only submits
// work to the event loop, so the next poll starts immediately.
func (b *Bot) HandleSync(_ context.Context, response *messaging.SyncResponse) {
	if len(response.Rooms.Invite) > 0 {
		b.acceptInvites(response.Rooms.Invite)
	}
	for roomID, room := range response.Rooms.Join {
		for _, event := range room.Timeline.Events {
			b.route(roomID, event)
		}
	}
	for roomID, room := range response.Rooms.Leave {
		for _, event := range room.Timeline.Events {
			b.route(roomID, event)
		}
	}
}

// acceptInvites joins rooms principals invited the bot to. Invites
// from anyone else stay pending.
func (b *Bot) acceptInvites(invites map[ref.RoomID]messaging.InvitedRoom) {
	b.loop.Submit(inviteLane, func(ctx context.Context) {
		callContext, cancel := context.WithTimeout(ctx, b.callTimeout)
		defer cancel()
		service.AcceptInvites(callContext, b.session, b.self, invites, b.engine.IsPrincipal, b.logger)
	})
}

// onLane runs fn on key's lane and waits for its result. Commands use
// it to touch welcome rooms in order with the room's other events.
func (b *Bot) onLane(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	result := make(chan error, 1)
	if !b.loop.Submit(key, func(ctx context.Context) { result <- fn(ctx) }) {
		return errors.New("shutting down")
	}
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
