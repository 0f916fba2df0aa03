// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bureau-foundation/childserv/lib/ref"
	"github.com/bureau-foundation/childserv/messaging"
)

func writeSession(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "session.json")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("writing session: %v", err)
	}
	return path
}

// clearSessionEnv makes sure overrides from the developer's shell do
// not leak into a test.
func clearSessionEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{"CHILDSERV_HOMESERVER_URL", "CHILDSERV_USER_ID", "CHILDSERV_ACCESS_TOKEN"} {
		t.Setenv(name, "")
	}
}

func TestLoadSession(t *testing.T) {
	t.Run("valid session", func(t *testing.T) {
		clearSessionEnv(t)
		path := writeSession(t, `{
			"homeserver_url": "http://localhost:6167",
			"user_id": "@childserv:example.org",
			"access_token": "syt_test_token"
		}`)

		client, session, err := LoadSession(path, messaging.ClientConfig{Logger: discardLogger()})
		if err != nil {
			t.Fatalf("LoadSession: %v", err)
		}
		defer session.Close()
		if client == nil {
			t.Error("LoadSession returned nil client")
		}
		if session.UserID().String() != "@childserv:example.org" {
			t.Errorf("UserID() = %q", session.UserID())
		}
	})

	t.Run("missing file", func(t *testing.T) {
		clearSessionEnv(t)
		_, _, err := LoadSession(filepath.Join(t.TempDir(), "session.json"), messaging.ClientConfig{})
		if err == nil {
			t.Fatal("expected error for missing session file")
		}
	})

	t.Run("malformed file", func(t *testing.T) {
		clearSessionEnv(t)
		path := writeSession(t, `{"user_id": `)
		_, _, err := LoadSession(path, messaging.ClientConfig{HomeserverURL: "http://localhost:6167"})
		if err == nil || !strings.Contains(err.Error(), "parsing session") {
			t.Fatalf("err = %v, want parse error", err)
		}
	})

	t.Run("empty access token", func(t *testing.T) {
		clearSessionEnv(t)
		path := writeSession(t, `{
			"homeserver_url": "http://localhost:6167",
			"user_id": "@childserv:example.org",
			"access_token": ""
		}`)
		_, _, err := LoadSession(path, messaging.ClientConfig{})
		if err == nil || !strings.Contains(err.Error(), "empty access token") {
			t.Fatalf("err = %v, want 'empty access token'", err)
		}
	})

	t.Run("invalid user ID", func(t *testing.T) {
		clearSessionEnv(t)
		path := writeSession(t, `{
			"homeserver_url": "http://localhost:6167",
			"user_id": "childserv",
			"access_token": "syt_test_token"
		}`)
		_, _, err := LoadSession(path, messaging.ClientConfig{})
		if err == nil || !strings.Contains(err.Error(), "invalid user_id") {
			t.Fatalf("err = %v, want invalid user_id", err)
		}
	})

	t.Run("config URL overrides file", func(t *testing.T) {
		clearSessionEnv(t)
		path := writeSession(t, `{
			"homeserver_url": "not a url",
			"user_id": "@childserv:example.org",
			"access_token": "syt_test_token"
		}`)
		// The file's URL would be rejected by NewClient; success means
		// the configured URL won.
		_, session, err := LoadSession(path, messaging.ClientConfig{HomeserverURL: "http://override:6167"})
		if err != nil {
			t.Fatalf("LoadSession: %v", err)
		}
		session.Close()
	})

	t.Run("environment overrides everything", func(t *testing.T) {
		clearSessionEnv(t)
		path := writeSession(t, `{
			"homeserver_url": "http://from-file:6167",
			"user_id": "@file:example.org",
			"access_token": "syt_file_token"
		}`)
		t.Setenv("CHILDSERV_USER_ID", "@env:example.org")
		t.Setenv("CHILDSERV_HOMESERVER_URL", "http://from-env:6167")

		_, session, err := LoadSession(path, messaging.ClientConfig{HomeserverURL: "not a url"})
		if err != nil {
			t.Fatalf("LoadSession: %v", err)
		}
		defer session.Close()
		if session.UserID().String() != "@env:example.org" {
			t.Errorf("UserID() = %q, want environment override", session.UserID())
		}
	})

	t.Run("environment without file", func(t *testing.T) {
		clearSessionEnv(t)
		t.Setenv("CHILDSERV_USER_ID", "@env:example.org")
		t.Setenv("CHILDSERV_ACCESS_TOKEN", "syt_env_token")

		_, session, err := LoadSession(filepath.Join(t.TempDir(), "absent.json"),
			messaging.ClientConfig{HomeserverURL: "http://localhost:6167"})
		if err != nil {
			t.Fatalf("LoadSession: %v", err)
		}
		session.Close()
	})
}

type fakeWhoAmI struct {
	claimed  ref.UserID
	returned ref.UserID
	err      error
}

func (f fakeWhoAmI) UserID() ref.UserID { return f.claimed }

func (f fakeWhoAmI) WhoAmI(context.Context) (ref.UserID, error) { return f.returned, f.err }

func TestValidateSession(t *testing.T) {
	bot := ref.MustParseUserID("@childserv:example.org")
	other := ref.MustParseUserID("@other:example.org")

	if got, err := ValidateSession(context.Background(), fakeWhoAmI{claimed: bot, returned: bot}); err != nil || got != bot {
		t.Errorf("ValidateSession = %v, %v; want %s", got, err, bot)
	}
	if _, err := ValidateSession(context.Background(), fakeWhoAmI{claimed: bot, returned: other}); err == nil {
		t.Error("mismatched token owner accepted")
	}
	if _, err := ValidateSession(context.Background(), fakeWhoAmI{claimed: bot, err: errors.New("M_UNKNOWN_TOKEN")}); err == nil {
		t.Error("WhoAmI failure not reported")
	}
}
