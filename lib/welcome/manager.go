// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package welcome

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/bureau-foundation/childserv/lib/clock"
	"github.com/bureau-foundation/childserv/lib/dispatch"
	"github.com/bureau-foundation/childserv/lib/markup"
	"github.com/bureau-foundation/childserv/lib/ref"
	"github.com/bureau-foundation/childserv/lib/schema"
	"github.com/bureau-foundation/childserv/messaging"
)

// ErrNotTracked is returned for operations on a room that is not an
// active welcome room.
var ErrNotTracked = errors.New("welcome: room is not a tracked welcome room")

// Gateway is the slice of the Matrix session the manager uses.
// *messaging.DirectSession satisfies it.
type Gateway interface {
	CreateRoom(ctx context.Context, request messaging.CreateRoomRequest) (*messaging.CreateRoomResponse, error)
	SendMessage(ctx context.Context, roomID ref.RoomID, content messaging.MessageContent) (ref.EventID, error)
	JoinRoom(ctx context.Context, roomID ref.RoomID) (ref.RoomID, error)
	LeaveRoom(ctx context.Context, roomID ref.RoomID) error
}

// Scheduler installs keyed timers. *schedule.Scheduler satisfies it.
type Scheduler interface {
	At(key string, when time.Time, fn dispatch.Task)
	Cancel(key string) bool
}

// Room is one tracked welcome room.
type Room struct {
	RoomID ref.RoomID `cbor:"room_id"`
	Member ref.UserID `cbor:"member"`
	// Origin is the monitored room the member joined.
	Origin       ref.RoomID `cbor:"origin"`
	CreatedAt    time.Time  `cbor:"created_at"`
	LeaveAt      time.Time  `cbor:"leave_at"`
	RejoinBudget int        `cbor:"rejoin_budget"`
}

// Config configures a Manager.
type Config struct {
	Gateway   Gateway
	Scheduler Scheduler
	Clock     clock.Clock

	// Self is the bot's user ID. Its own joins never trigger welcomes.
	Self ref.UserID

	Monitored         []ref.RoomID
	GracePeriod       time.Duration
	MaxRejoinAttempts int
	LeaveWhenAlone    bool
	LeaveRetryDelay   time.Duration
	CallTimeout       time.Duration

	// RoomName, Topic and Message are text/template sources filled
	// with TemplateData. Message is Markdown.
	RoomName string
	Topic    string
	Message  string

	// SnapshotPath is where tracked rooms are persisted. Empty
	// disables persistence.
	SnapshotPath string

	// Alert reports failures an operator should see. Optional.
	Alert func(ctx context.Context, message string)

	Logger *slog.Logger
}

// TemplateData is the value the welcome templates are executed with.
type TemplateData struct {
	UserID      string
	Localpart   string
	Room        string
	GracePeriod string
}

// Manager owns welcome rooms and the monitored room set.
type Manager struct {
	gateway   Gateway
	scheduler Scheduler
	clock     clock.Clock
	self      ref.UserID
	logger    *slog.Logger
	alert     func(ctx context.Context, message string)

	gracePeriod       time.Duration
	maxRejoinAttempts int
	leaveWhenAlone    bool
	leaveRetryDelay   time.Duration
	callTimeout       time.Duration

	roomName *markup.Template
	topic    *markup.Template
	message  *markup.Template

	snapshotPath string
	// saveMu orders snapshot writes so the file always ends with the
	// newest state.
	saveMu sync.Mutex

	mu        sync.Mutex
	rooms     map[ref.RoomID]*Room
	byMember  map[ref.UserID]ref.RoomID
	inFlight  map[ref.UserID]bool
	monitored map[ref.RoomID]bool
}

// NewManager validates the configuration and compiles the templates.
func NewManager(config Config) (*Manager, error) {
	if config.Gateway == nil || config.Scheduler == nil {
		return nil, fmt.Errorf("welcome: gateway and scheduler are required")
	}
	if config.Self.IsZero() {
		return nil, fmt.Errorf("welcome: bot user ID is required")
	}
	if config.GracePeriod <= 0 {
		return nil, fmt.Errorf("welcome: grace period must be positive, got %s", config.GracePeriod)
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.LeaveRetryDelay <= 0 {
		config.LeaveRetryDelay = time.Minute
	}
	if config.CallTimeout <= 0 {
		config.CallTimeout = 15 * time.Second
	}

	roomName, err := markup.Compile("room_name", config.RoomName)
	if err != nil {
		return nil, fmt.Errorf("welcome: %w", err)
	}
	topic, err := markup.Compile("topic", config.Topic)
	if err != nil {
		return nil, fmt.Errorf("welcome: %w", err)
	}
	message, err := markup.Compile("message", config.Message)
	if err != nil {
		return nil, fmt.Errorf("welcome: %w", err)
	}

	manager := &Manager{
		gateway:           config.Gateway,
		scheduler:         config.Scheduler,
		clock:             config.Clock,
		self:              config.Self,
		logger:            config.Logger,
		alert:             config.Alert,
		gracePeriod:       config.GracePeriod,
		maxRejoinAttempts: max(config.MaxRejoinAttempts, 0),
		leaveWhenAlone:    config.LeaveWhenAlone,
		leaveRetryDelay:   config.LeaveRetryDelay,
		callTimeout:       config.CallTimeout,
		roomName:          roomName,
		topic:             topic,
		message:           message,
		snapshotPath:      config.SnapshotPath,
		rooms:             make(map[ref.RoomID]*Room),
		byMember:          make(map[ref.UserID]ref.RoomID),
		inFlight:          make(map[ref.UserID]bool),
		monitored:         make(map[ref.RoomID]bool),
	}
	for _, roomID := range config.Monitored {
		manager.monitored[roomID] = true
	}
	return manager, nil
}

// LaneKey is the event loop key for everything concerning member's
// welcome room: their joins, the room's leave timer, and the bot's
// removal from it.
func LaneKey(member ref.UserID) string {
	return "welcome:" + member.String()
}

// LaneFor returns the lane key for a tracked welcome room.
func (m *Manager) LaneFor(roomID ref.RoomID) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	room, ok := m.rooms[roomID]
	if !ok {
		return "", false
	}
	return LaneKey(room.Member), true
}

// IsWelcomeRoom reports whether roomID is a tracked welcome room.
func (m *Manager) IsWelcomeRoom(roomID ref.RoomID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.rooms[roomID]
	return ok
}

// OnMemberJoined welcomes member after a join in origin. Joins outside
// monitored rooms, the bot's own joins, and members who already have
// a welcome room (or one being created) are ignored.
func (m *Manager) OnMemberJoined(ctx context.Context, origin ref.RoomID, member ref.UserID) error {
	if member == m.self || !m.IsMonitored(origin) {
		return nil
	}
	logger := m.logger.With("room_id", origin.String(), "user_id", member.String())

	m.mu.Lock()
	if _, ok := m.byMember[member]; ok || m.inFlight[member] {
		m.mu.Unlock()
		logger.Debug("member already has a welcome room")
		return nil
	}
	m.inFlight[member] = true
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.inFlight, member)
		m.mu.Unlock()
	}()

	data := TemplateData{
		UserID:      member.String(),
		Localpart:   member.Localpart(),
		Room:        origin.String(),
		GracePeriod: humanDuration(m.gracePeriod),
	}
	name, err := m.roomName.ExecuteString(data)
	if err != nil {
		return fmt.Errorf("welcome: rendering room name: %w", err)
	}
	topic, err := m.topic.ExecuteString(data)
	if err != nil {
		return fmt.Errorf("welcome: rendering topic: %w", err)
	}
	body, err := m.message.Execute(data)
	if err != nil {
		return fmt.Errorf("welcome: rendering message: %w", err)
	}

	callContext, cancel := context.WithTimeout(ctx, m.callTimeout)
	response, err := m.gateway.CreateRoom(callContext, messaging.CreateRoomRequest{
		Name:       name,
		Topic:      topic,
		Visibility: "private",
		Preset:     "private_chat",
		IsDirect:   true,
		Invite:     []ref.UserID{member},
	})
	cancel()
	if err != nil {
		logger.Error("creating welcome room failed", "error", err)
		m.report(ctx, fmt.Sprintf("Could not create a welcome room for %s: %v", member, err))
		return fmt.Errorf("welcome: creating room for %s: %w", member, err)
	}

	now := m.clock.Now()
	room := &Room{
		RoomID:       response.RoomID,
		Member:       member,
		Origin:       origin,
		CreatedAt:    now,
		LeaveAt:      now.Add(m.gracePeriod),
		RejoinBudget: m.maxRejoinAttempts,
	}
	m.mu.Lock()
	m.rooms[room.RoomID] = room
	m.byMember[member] = room.RoomID
	m.mu.Unlock()
	m.scheduleLeave(room.RoomID, member, room.LeaveAt)
	m.save()
	logger.Info("welcome room created",
		"welcome_room_id", room.RoomID.String(),
		"leave_at", room.LeaveAt,
	)

	// The room stays tracked even if the welcome message fails.
	callContext, cancel = context.WithTimeout(ctx, m.callTimeout)
	defer cancel()
	if _, err := m.gateway.SendMessage(callContext, room.RoomID, messaging.NewHTMLMessage(body.Plain, body.HTML)); err != nil {
		logger.Warn("sending welcome message failed",
			"welcome_room_id", room.RoomID.String(),
			"error", err,
		)
	}
	return nil
}

func (m *Manager) scheduleLeave(roomID ref.RoomID, member ref.UserID, when time.Time) {
	m.scheduler.At(LaneKey(member), when, func(ctx context.Context) {
		m.OnLeaveTimerFired(ctx, roomID)
	})
}

// OnLeaveTimerFired leaves roomID if it is still a tracked welcome
// room. Duplicate firings are harmless.
func (m *Manager) OnLeaveTimerFired(ctx context.Context, roomID ref.RoomID) {
	m.mu.Lock()
	room, ok := m.rooms[roomID]
	m.mu.Unlock()
	if !ok {
		m.logger.Debug("leave timer for untracked room ignored", "room_id", roomID.String())
		return
	}
	m.logger.Info("grace period over, leaving welcome room",
		"room_id", roomID.String(),
		"user_id", room.Member.String(),
	)
	m.leave(ctx, room)
}

// leave cancels the room's timer and leaves it. A permanent failure
// still drops the room; a transient one re-arms the timer after the
// retry delay.
func (m *Manager) leave(ctx context.Context, room *Room) error {
	m.scheduler.Cancel(LaneKey(room.Member))

	callContext, cancel := context.WithTimeout(ctx, m.callTimeout)
	err := m.gateway.LeaveRoom(callContext, room.RoomID)
	cancel()

	logger := m.logger.With("room_id", room.RoomID.String(), "user_id", room.Member.String())
	switch {
	case err == nil:
		logger.Info("left welcome room")
	case messaging.IsPermanent(err):
		logger.Warn("leaving welcome room failed permanently, dropping it", "error", err)
	default:
		retryAt := m.clock.Now().Add(m.leaveRetryDelay)
		logger.Warn("leaving welcome room failed, will retry", "error", err, "retry_at", retryAt)
		m.mu.Lock()
		room.LeaveAt = retryAt
		m.mu.Unlock()
		m.scheduleLeave(room.RoomID, room.Member, retryAt)
		m.save()
		return fmt.Errorf("welcome: leaving %s: %w", room.RoomID, err)
	}
	m.forget(room.RoomID)
	m.save()
	return nil
}

// drop forgets a room without leaving it and cancels its timer.
func (m *Manager) drop(room *Room) {
	m.scheduler.Cancel(LaneKey(room.Member))
	m.forget(room.RoomID)
	m.save()
}

func (m *Manager) forget(roomID ref.RoomID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	room, ok := m.rooms[roomID]
	if !ok {
		return
	}
	delete(m.rooms, roomID)
	if m.byMember[room.Member] == roomID {
		delete(m.byMember, room.Member)
	}
}

// OnMemberRemoved handles the bot's own departure from roomID. An
// involuntary removal (kick or ban by someone else) triggers a rejoin
// while budget remains; anything else drops the room.
func (m *Manager) OnMemberRemoved(ctx context.Context, roomID ref.RoomID, transition schema.Transition) {
	m.mu.Lock()
	room, ok := m.rooms[roomID]
	m.mu.Unlock()
	if !ok {
		return
	}
	logger := m.logger.With("room_id", roomID.String(), "user_id", room.Member.String(), "transition", transition.String())

	if !transition.Involuntary() {
		logger.Info("bot left welcome room")
		m.drop(room)
		return
	}

	m.mu.Lock()
	budget := room.RejoinBudget
	if budget > 0 {
		room.RejoinBudget--
	}
	m.mu.Unlock()
	if budget <= 0 {
		logger.Warn("removed from welcome room with no rejoin budget left")
		m.drop(room)
		m.report(ctx, fmt.Sprintf("Removed from welcome room %s for %s; rejoin budget exhausted.", roomID, room.Member))
		return
	}

	callContext, cancel := context.WithTimeout(ctx, m.callTimeout)
	_, err := m.gateway.JoinRoom(callContext, roomID)
	cancel()
	if err != nil {
		logger.Error("rejoining welcome room failed", "error", err)
		m.drop(room)
		m.report(ctx, fmt.Sprintf("Could not rejoin welcome room %s for %s: %v", roomID, room.Member, err))
		return
	}
	logger.Info("rejoined welcome room", "leave_at", room.LeaveAt)
	m.save()
}

// OnMemberLeft handles the welcomed member leaving their own welcome
// room. With leave-when-alone enabled the bot leaves at once.
func (m *Manager) OnMemberLeft(ctx context.Context, roomID ref.RoomID, member ref.UserID) {
	m.mu.Lock()
	room, ok := m.rooms[roomID]
	m.mu.Unlock()
	if !ok || room.Member != member || !m.leaveWhenAlone {
		return
	}
	m.logger.Info("welcomed member left, closing room",
		"room_id", roomID.String(),
		"user_id", member.String(),
	)
	m.leave(ctx, room)
}

// Close ends a welcome room early.
func (m *Manager) Close(ctx context.Context, roomID ref.RoomID) error {
	m.mu.Lock()
	room, ok := m.rooms[roomID]
	m.mu.Unlock()
	if !ok {
		return ErrNotTracked
	}
	return m.leave(ctx, room)
}

// Extend moves roomID's leave deadline later by extra and returns the
// new deadline.
func (m *Manager) Extend(roomID ref.RoomID, extra time.Duration) (time.Time, error) {
	if extra <= 0 {
		return time.Time{}, fmt.Errorf("welcome: extension must be positive, got %s", extra)
	}
	m.mu.Lock()
	room, ok := m.rooms[roomID]
	if !ok {
		m.mu.Unlock()
		return time.Time{}, ErrNotTracked
	}
	room.LeaveAt = room.LeaveAt.Add(extra)
	leaveAt, member := room.LeaveAt, room.Member
	m.mu.Unlock()

	m.scheduleLeave(roomID, member, leaveAt)
	m.save()
	return leaveAt, nil
}

// Rooms returns copies of the tracked rooms, oldest first.
func (m *Manager) Rooms() []Room {
	m.mu.Lock()
	rooms := make([]Room, 0, len(m.rooms))
	for _, room := range m.rooms {
		rooms = append(rooms, *room)
	}
	m.mu.Unlock()
	slices.SortFunc(rooms, func(a, b Room) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.RoomID.String(), b.RoomID.String())
	})
	return rooms
}

// AddMonitored starts welcoming joiners of roomID. Returns false if it
// was already monitored.
func (m *Manager) AddMonitored(roomID ref.RoomID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.monitored[roomID] {
		return false
	}
	m.monitored[roomID] = true
	return true
}

// RemoveMonitored stops welcoming joiners of roomID. Existing welcome
// rooms are unaffected.
func (m *Manager) RemoveMonitored(roomID ref.RoomID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.monitored[roomID] {
		return false
	}
	delete(m.monitored, roomID)
	return true
}

// IsMonitored reports whether joins in roomID are welcomed.
func (m *Manager) IsMonitored(roomID ref.RoomID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.monitored[roomID]
}

// Monitored returns the monitored rooms, sorted.
func (m *Manager) Monitored() []ref.RoomID {
	m.mu.Lock()
	rooms := make([]ref.RoomID, 0, len(m.monitored))
	for roomID := range m.monitored {
		rooms = append(rooms, roomID)
	}
	m.mu.Unlock()
	slices.SortFunc(rooms, func(a, b ref.RoomID) int { return strings.Compare(a.String(), b.String()) })
	return rooms
}

// Describe renders a room for operator listings.
func (m *Manager) Describe(room Room) string {
	return fmt.Sprintf("%s for %s, closes %s (rejoins left: %d)",
		room.RoomID, room.Member,
		humanize.RelTime(room.LeaveAt, m.clock.Now(), "ago", "from now"),
		room.RejoinBudget,
	)
}

func (m *Manager) report(ctx context.Context, message string) {
	if m.alert != nil {
		m.alert(ctx, message)
	}
}

// humanDuration renders d as "1 hour", "45 minutes" and so on.
func humanDuration(d time.Duration) string {
	var epoch time.Time
	return strings.TrimSpace(humanize.RelTime(epoch, epoch.Add(d), "", ""))
}
