// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bureau-foundation/childserv/lib/config"
	"github.com/bureau-foundation/childserv/lib/ref"
)

func TestRunFlags(t *testing.T) {
	if err := run([]string{"--version"}); err != nil {
		t.Errorf("--version: %v", err)
	}
	if err := run([]string{"--help"}); err != nil {
		t.Errorf("--help: %v", err)
	}
	if err := run([]string{"--no-such-flag"}); err == nil {
		t.Error("unknown flag accepted")
	}
}

func TestRunConfigErrors(t *testing.T) {
	t.Setenv(config.EnvConfigPath, "")
	if err := run(nil); err == nil || !strings.Contains(err.Error(), config.EnvConfigPath) {
		t.Errorf("run without config: err = %v", err)
	}

	missing := filepath.Join(t.TempDir(), "missing.yaml")
	if err := run([]string{"--config", missing}); err == nil {
		t.Error("run with a missing config file succeeded")
	}

	path := filepath.Join(t.TempDir(), "childserv.yaml")
	body := `homeserver_url: http://localhost:6167
session_file: /dev/null
state_dir: ` + t.TempDir() + `
admins:
  - user_id: "@operator:example.org"
    level: 100
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	err := run([]string{"-c", path, "--log-level", "loud"})
	if err == nil || !strings.Contains(err.Error(), "--log-level") {
		t.Errorf("bad --log-level: err = %v", err)
	}
}

func TestNewLogger(t *testing.T) {
	var buffer bytes.Buffer
	logger := newLogger(&buffer, config.LoggingConfig{Level: slog.LevelWarn, Format: "json"})
	logger.Info("hidden")
	logger.Warn("shown", "room_id", "!a:example.org")

	var record map[string]any
	if err := json.Unmarshal(buffer.Bytes(), &record); err != nil {
		t.Fatalf("expected one JSON record, got %q: %v", buffer.String(), err)
	}
	if record["msg"] != "shown" || record["room_id"] != "!a:example.org" {
		t.Errorf("record = %v", record)
	}

	buffer.Reset()
	logger = newLogger(&buffer, config.LoggingConfig{Level: slog.LevelDebug, Format: "text"})
	logger.Debug("plain")
	if !strings.Contains(buffer.String(), "msg=plain") {
		t.Errorf("text output = %q", buffer.String())
	}
}

func TestAlerterPostsNotice(t *testing.T) {
	session := newFakeSession()
	alerts := &alerter{
		sender:  session,
		room:    alertRoom,
		timeout: time.Second,
		logger:  slog.New(slog.DiscardHandler),
	}

	// A cancelled caller still gets its alert delivered.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	alerts.Alert(ctx, "ban failed")

	got := session.messages(alertRoom)
	if len(got) != 1 || !strings.Contains(got[0], "ban failed") {
		t.Fatalf("alerts = %q", got)
	}
	if msgtype := session.sent[alertRoom][0].MsgType; msgtype != "m.notice" {
		t.Errorf("msgtype = %q, want m.notice", msgtype)
	}

	silent := &alerter{sender: session, logger: slog.New(slog.DiscardHandler)}
	silent.Alert(context.Background(), "log only")
	if calls := session.gatewayCalls(); calls != 1 {
		t.Errorf("alerter without a room sent messages: %d calls", calls)
	}
}

func TestCommandLane(t *testing.T) {
	first := commandLane(ref.MustParseRoomID("!a:example.org"))
	second := commandLane(ref.MustParseRoomID("!b:example.org"))
	if first == second || !strings.HasPrefix(first, "room:") {
		t.Errorf("command lanes %q and %q", first, second)
	}
}
