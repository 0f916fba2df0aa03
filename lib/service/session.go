// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/kelseyhightower/envconfig"

	"github.com/bureau-foundation/childserv/lib/ref"
	"github.com/bureau-foundation/childserv/messaging"
)

// EnvPrefix is the prefix of the environment variables that override
// fields of the session file: CHILDSERV_HOMESERVER_URL,
// CHILDSERV_USER_ID, and CHILDSERV_ACCESS_TOKEN.
const EnvPrefix = "CHILDSERV"

// SessionData is the JSON structure of session.json.
type SessionData struct {
	HomeserverURL string `json:"homeserver_url" envconfig:"HOMESERVER_URL"`
	UserID        string `json:"user_id" envconfig:"USER_ID"`
	AccessToken   string `json:"access_token" envconfig:"ACCESS_TOKEN"`
}

// LoadSession reads the Matrix session from path and returns an
// authenticated client and session.
//
// Precedence for each field, highest first: the CHILDSERV_*
// environment variable, then (for the homeserver URL only)
// clientConfig.HomeserverURL, then the file. A missing file is not an
// error when the environment supplies both the user ID and the access
// token.
//
// The raw file bytes are zeroed after parsing. The access token is
// moved into guarded memory by the messaging library; the caller must
// call Close on the session to release it.
func LoadSession(path string, clientConfig messaging.ClientConfig) (*messaging.Client, *messaging.DirectSession, error) {
	var env SessionData
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return nil, nil, fmt.Errorf("reading %s_* session overrides: %w", EnvPrefix, err)
	}

	var data SessionData
	jsonData, err := os.ReadFile(path)
	switch {
	case err == nil:
		parseErr := json.Unmarshal(jsonData, &data)
		clear(jsonData)
		if parseErr != nil {
			return nil, nil, fmt.Errorf("parsing session from %s: %w", path, parseErr)
		}
	case errors.Is(err, fs.ErrNotExist) && env.UserID != "" && env.AccessToken != "":
		// Fully specified by the environment.
	default:
		return nil, nil, fmt.Errorf("reading session from %s: %w", path, err)
	}

	if env.UserID != "" {
		data.UserID = env.UserID
	}
	if env.AccessToken != "" {
		data.AccessToken = env.AccessToken
	}
	switch {
	case env.HomeserverURL != "":
		data.HomeserverURL = env.HomeserverURL
	case clientConfig.HomeserverURL != "":
		data.HomeserverURL = clientConfig.HomeserverURL
	}

	if data.AccessToken == "" {
		return nil, nil, fmt.Errorf("session %s has empty access token", path)
	}
	userID, err := ref.ParseUserID(data.UserID)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid user_id in session %s: %w", path, err)
	}

	clientConfig.HomeserverURL = data.HomeserverURL
	client, err := messaging.NewClient(clientConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("creating matrix client: %w", err)
	}
	session, err := client.SessionFromToken(userID, data.AccessToken)
	if err != nil {
		return nil, nil, err
	}
	return client, session, nil
}

// WhoAmIer is the subset of a session ValidateSession needs.
type WhoAmIer interface {
	UserID() ref.UserID
	WhoAmI(ctx context.Context) (ref.UserID, error)
}

// ValidateSession calls WhoAmI to verify the access token is still
// valid and that it belongs to the user the session claims. Call once
// at startup after LoadSession.
func ValidateSession(ctx context.Context, session WhoAmIer) (ref.UserID, error) {
	userID, err := session.WhoAmI(ctx)
	if err != nil {
		return ref.UserID{}, fmt.Errorf("validating matrix session: %w", err)
	}
	if userID != session.UserID() {
		return ref.UserID{}, fmt.Errorf("validating matrix session: token belongs to %s, session claims %s", userID, session.UserID())
	}
	return userID, nil
}
