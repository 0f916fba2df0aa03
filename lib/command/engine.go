// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bureau-foundation/childserv/lib/ref"
	"github.com/bureau-foundation/childserv/messaging"
)

// PermissionError reports a sender below the level a command needs.
// Its message never reveals the required level.
type PermissionError struct {
	Command  string
	Required int
	Actual   int
}

func (e *PermissionError) Error() string { return "not permitted" }

// RequiredLevel is the highest level declared along the matched path.
func (t *Tree) RequiredLevel(invocation *Invocation) int {
	required := 0
	for _, node := range invocation.path {
		required = max(required, node.level)
	}
	return required
}

// Authorize checks level against the invocation's required level.
func (t *Tree) Authorize(invocation *Invocation, level int) error {
	required := t.RequiredLevel(invocation)
	if level < required {
		return &PermissionError{
			Command:  invocation.Command(),
			Required: required,
			Actual:   level,
		}
	}
	return nil
}

// Dispatch runs the matched handler and returns its reply.
func (t *Tree) Dispatch(ctx context.Context, invocation *Invocation) (string, error) {
	if len(invocation.path) == 0 {
		return "", fmt.Errorf("command: dispatch of empty invocation")
	}
	handler := invocation.path[len(invocation.path)-1].handler
	if handler == nil {
		return "", fmt.Errorf("command: %q has no handler", invocation.Command())
	}
	return handler(ctx, invocation)
}

// Sender posts replies. *messaging.DirectSession satisfies it.
type Sender interface {
	SendMessage(ctx context.Context, roomID ref.RoomID, content messaging.MessageContent) (ref.EventID, error)
}

// EngineConfig configures an Engine.
type EngineConfig struct {
	Tree *Tree

	// Principals maps each operator to their level. Senders not in
	// the map are never parsed.
	Principals map[ref.UserID]int

	// AdminRooms restricts commands to these rooms. Empty accepts
	// commands in any room.
	AdminRooms []ref.RoomID

	Sender Sender
	Logger *slog.Logger
}

// Engine applies the admin filter and drives parse, authorize,
// dispatch and reply for one message.
type Engine struct {
	tree       *Tree
	principals map[ref.UserID]int
	adminRooms map[ref.RoomID]bool
	sender     Sender
	logger     *slog.Logger
}

// NewEngine returns an Engine. The principal and room sets are copied.
func NewEngine(config EngineConfig) *Engine {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	principals := make(map[ref.UserID]int, len(config.Principals))
	for userID, level := range config.Principals {
		principals[userID] = level
	}
	adminRooms := make(map[ref.RoomID]bool, len(config.AdminRooms))
	for _, roomID := range config.AdminRooms {
		adminRooms[roomID] = true
	}
	return &Engine{
		tree:       config.Tree,
		principals: principals,
		adminRooms: adminRooms,
		sender:     config.Sender,
		logger:     logger,
	}
}

// Level returns userID's permission level; 0 for non-principals.
func (e *Engine) Level(userID ref.UserID) int {
	return e.principals[userID]
}

// IsPrincipal reports whether userID is a configured operator.
func (e *Engine) IsPrincipal(userID ref.UserID) bool {
	_, ok := e.principals[userID]
	return ok
}

// IsAdminRoom reports whether commands are accepted in roomID.
func (e *Engine) IsAdminRoom(roomID ref.RoomID) bool {
	return len(e.adminRooms) == 0 || e.adminRooms[roomID]
}

// Tree returns the engine's command tree.
func (e *Engine) Tree() *Tree { return e.tree }

// Handle processes one message. Returns false, without any gateway
// call, when the message is not an operator command.
func (e *Engine) Handle(ctx context.Context, source Source, rawText string) bool {
	if !e.IsPrincipal(source.Sender) || !e.IsAdminRoom(source.Room) {
		return false
	}
	level := e.Level(source.Sender)
	invocation, err := e.tree.ParseAt(source, rawText, level)
	if errors.Is(err, ErrNotCommand) {
		return false
	}
	logger := e.logger.With("room_id", source.Room.String(), "user_id", source.Sender.String())

	var parseError *ParseError
	var permissionError *PermissionError
	if errors.As(err, &permissionError) {
		logger.Warn("command denied",
			"command", permissionError.Command,
			"level", level,
			"required", permissionError.Required,
		)
		e.reply(ctx, source.Room, permissionError.Error())
		return true
	}
	if errors.As(err, &parseError) {
		logger.Info("command rejected", "reason", parseError.Error())
		e.reply(ctx, source.Room, parseError.Reply())
		return true
	}
	if err != nil {
		logger.Error("command parse failed", "error", err)
		e.reply(ctx, source.Room, "error: "+err.Error())
		return true
	}

	if err := e.tree.Authorize(invocation, invocation.Level); err != nil {
		logger.Warn("command denied",
			"command", invocation.Command(),
			"level", invocation.Level,
			"required", e.tree.RequiredLevel(invocation),
		)
		e.reply(ctx, source.Room, err.Error())
		return true
	}

	logger.Info("command accepted", "command", invocation.Command())
	reply, err := e.tree.Dispatch(ctx, invocation)
	if err != nil {
		if errors.As(err, &permissionError) {
			e.reply(ctx, source.Room, permissionError.Error())
			return true
		}
		logger.Warn("command failed", "command", invocation.Command(), "error", err)
		e.reply(ctx, source.Room, "error: "+err.Error())
		return true
	}
	if reply != "" {
		e.reply(ctx, source.Room, reply)
	}
	return true
}

func (e *Engine) reply(ctx context.Context, roomID ref.RoomID, text string) {
	if _, err := e.sender.SendMessage(ctx, roomID, messaging.NewNotice(text)); err != nil {
		e.logger.Error("sending command reply failed", "room_id", roomID.String(), "error", err)
	}
}
