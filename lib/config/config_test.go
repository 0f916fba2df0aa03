// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bureau-foundation/childserv/lib/ref"
)

const minimalYAML = `
homeserver_url: https://matrix.example.org
session_file: /etc/childserv/session.json
state_dir: /tmp/childserv
admins:
  - user_id: "@owner:example.org"
    level: 100
`

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Welcome.GracePeriod != time.Hour {
		t.Errorf("expected grace_period=1h, got %s", cfg.Welcome.GracePeriod)
	}
	if cfg.Welcome.MaxRejoinAttempts != 1 {
		t.Errorf("expected max_rejoin_attempts=1, got %d", cfg.Welcome.MaxRejoinAttempts)
	}
	if cfg.Bans.ReconcileInterval != 2*time.Minute || cfg.Bans.BackoffBase != 30*time.Second ||
		cfg.Bans.BackoffMax != 30*time.Minute || cfg.Bans.MaxAttempts != 8 || cfg.Bans.Workers != 4 {
		t.Errorf("unexpected ban defaults: %+v", cfg.Bans)
	}
	if cfg.Gateway.CallTimeout != 15*time.Second {
		t.Errorf("expected call_timeout=15s, got %s", cfg.Gateway.CallTimeout)
	}
	if cfg.CommandPrefix != "!" {
		t.Errorf("expected command_prefix=!, got %q", cfg.CommandPrefix)
	}
}

func TestLoad_RequiresConfigEnv(t *testing.T) {
	t.Setenv(EnvConfigPath, "")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error when CHILDSERV_CONFIG not set, got nil")
	}
	if !strings.HasPrefix(err.Error(), "CHILDSERV_CONFIG environment variable not set") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLoad_WithConfigEnv(t *testing.T) {
	t.Setenv(EnvConfigPath, writeConfig(t, "childserv.yaml", minimalYAML))

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.HomeserverURL != "https://matrix.example.org" {
		t.Errorf("homeserver_url = %q", cfg.HomeserverURL)
	}
	principals := cfg.Principals()
	if principals[ref.MustParseUserID("@owner:example.org")] != 100 {
		t.Errorf("principals = %v", principals)
	}
}

func TestLoadFile(t *testing.T) {
	content := minimalYAML + `
command_prefix: "?"
admin_rooms: ["#mods:example.org"]
alert_room: "!alerts:example.org"
permissions:
  ban: 60
welcome:
  monitored_rooms: ["#lobby:example.org", "!abc:example.org"]
  grace_period: 90m
  max_rejoin_attempts: 0
  leave_when_alone: false
bans:
  target_rooms: ["#a:example.org", "#b:example.org"]
  max_attempts: 3
logging:
  level: debug
  format: text
`
	cfg, err := LoadFile(writeConfig(t, "childserv.yaml", content))
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}

	if cfg.CommandPrefix != "?" {
		t.Errorf("command_prefix = %q", cfg.CommandPrefix)
	}
	if len(cfg.AdminRooms) != 1 || !cfg.AdminRooms[0].IsAlias() {
		t.Errorf("admin_rooms = %v", cfg.AdminRooms)
	}
	if cfg.AlertRoom.RoomID().String() != "!alerts:example.org" {
		t.Errorf("alert_room = %v", cfg.AlertRoom)
	}
	if cfg.Permissions.Ban != 60 || cfg.Permissions.Unban != 50 {
		t.Errorf("permissions = %+v (unset fields should keep defaults)", cfg.Permissions)
	}
	if len(cfg.Welcome.MonitoredRooms) != 2 || cfg.Welcome.GracePeriod != 90*time.Minute {
		t.Errorf("welcome = %+v", cfg.Welcome)
	}
	if cfg.Welcome.MaxRejoinAttempts != 0 || cfg.Welcome.LeaveWhenAlone {
		t.Error("explicit zero/false values should override defaults")
	}
	if cfg.Welcome.Message != DefaultWelcomeMessage {
		t.Error("unset welcome.message should keep the default")
	}
	if len(cfg.Bans.TargetRooms) != 2 || cfg.Bans.MaxAttempts != 3 || cfg.Bans.Workers != 4 {
		t.Errorf("bans = %+v", cfg.Bans)
	}
	if cfg.Logging.Level != slog.LevelDebug || cfg.Logging.Format != "text" {
		t.Errorf("logging = %+v", cfg.Logging)
	}
}

func TestLoadFileJSONC(t *testing.T) {
	content := `{
  // Matrix connection
  "homeserver_url": "https://matrix.example.org",
  "session_file": "/etc/childserv/session.json",
  "state_dir": "/tmp/childserv",
  "admins": [
    {"user_id": "@owner:example.org", "level": 100}, // trailing comma next
  ],
  "welcome": {"grace_period": "45m"},
}`
	cfg, err := LoadFile(writeConfig(t, "childserv.jsonc", content))
	if err != nil {
		t.Fatalf("LoadFile(jsonc) failed: %v", err)
	}
	if cfg.Welcome.GracePeriod != 45*time.Minute {
		t.Errorf("grace_period = %s", cfg.Welcome.GracePeriod)
	}
	if len(cfg.Admins) != 1 {
		t.Errorf("admins = %+v", cfg.Admins)
	}
}

func TestExpandVariables(t *testing.T) {
	t.Setenv("CHILDSERV_TEST_ROOT", "/srv/bot")
	content := `
homeserver_url: https://matrix.example.org
state_dir: ${CHILDSERV_TEST_ROOT}/state
session_file: ${CHILDSERV_STATE}/session.json
admins:
  - user_id: "@owner:example.org"
    level: 100
`
	cfg, err := LoadFile(writeConfig(t, "childserv.yaml", content))
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if cfg.StateDir != "/srv/bot/state" {
		t.Errorf("state_dir = %q", cfg.StateDir)
	}
	if cfg.SessionFile != "/srv/bot/state/session.json" {
		t.Errorf("session_file = %q", cfg.SessionFile)
	}
	if cfg.SnapshotPath() != "/srv/bot/state/welcome.cbor" || cfg.DatabasePath() != "/srv/bot/state/bans.db" {
		t.Errorf("derived paths: %q %q", cfg.SnapshotPath(), cfg.DatabasePath())
	}
}

func TestExpandVarsDefault(t *testing.T) {
	got := expandVars("${CHILDSERV_SURELY_UNSET:-/fallback}/x", map[string]string{})
	if got != "/fallback/x" {
		t.Errorf("expandVars = %q", got)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"no homeserver", func(c *Config) { c.HomeserverURL = "" }, "homeserver_url is required"},
		{"no admins", func(c *Config) { c.Admins = nil }, "at least one principal"},
		{"duplicate admin", func(c *Config) { c.Admins = append(c.Admins, c.Admins[0]) }, "duplicate principal"},
		{"negative level", func(c *Config) { c.Admins[0].Level = -1 }, "level must be >= 0"},
		{"zero grace", func(c *Config) { c.Welcome.GracePeriod = 0 }, "welcome.grace_period must be positive"},
		{"base above max", func(c *Config) { c.Bans.BackoffBase = time.Hour }, "exceeds bans.backoff_max"},
		{"zero attempts", func(c *Config) { c.Bans.MaxAttempts = 0 }, "max_attempts must be at least 1"},
		{"zero workers", func(c *Config) { c.Bans.Workers = 0 }, "workers must be at least 1"},
		{"prefix whitespace", func(c *Config) { c.CommandPrefix = "! " }, "command_prefix"},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cfg := Default()
			cfg.HomeserverURL = "https://matrix.example.org"
			cfg.SessionFile = "/session.json"
			cfg.Admins = []Admin{{UserID: ref.MustParseUserID("@owner:example.org"), Level: 100}}
			test.mutate(cfg)

			err := cfg.Validate()
			if test.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), test.wantErr) {
				t.Errorf("Validate() = %v, want error containing %q", err, test.wantErr)
			}
		})
	}
}

func TestLoadFileRejectsBadIdentifier(t *testing.T) {
	content := strings.Replace(minimalYAML, `"@owner:example.org"`, `"owner"`, 1)
	if _, err := LoadFile(writeConfig(t, "childserv.yaml", content)); err == nil {
		t.Fatal("expected error for malformed user ID")
	}
}
