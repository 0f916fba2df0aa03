// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bansync

import (
	"errors"
	"fmt"
	"time"

	"github.com/bureau-foundation/childserv/lib/ref"
)

var (
	// ErrAlreadyBanned is returned when issuing a ban for a subject
	// with an existing entry.
	ErrAlreadyBanned = errors.New("bansync: subject is already banned")

	// ErrNotFound is returned when revoking or retrying an unknown
	// subject.
	ErrNotFound = errors.New("bansync: subject is not banned")

	// ErrRecordNotFound is returned by Store.UpdateRecord when the
	// record was deleted concurrently (for example by a revocation).
	ErrRecordNotFound = errors.New("bansync: propagation record not found")
)

// Action is what a record applies to its target room.
type Action string

const (
	ActionBan   Action = "ban"
	ActionUnban Action = "unban"
)

// Status is a record's propagation state.
type Status string

const (
	StatusPending Status = "pending"
	StatusApplied Status = "applied"
	StatusFailed  Status = "failed"
)

// Entry is one canonical ban.
type Entry struct {
	Subject  ref.UserID
	Reason   string
	IssuedAt time.Time
	IssuedBy ref.UserID
}

// Record tracks one action against one target room.
type Record struct {
	Subject ref.UserID
	Target  ref.RoomID
	Action  Action
	Status  Status
	// Reason is copied from the entry for ban records.
	Reason        string
	LastAttemptAt time.Time
	NextAttemptAt time.Time
	Attempts      int
	// Permanent marks a failed record that will not be retried
	// automatically.
	Permanent bool
	LastError string
}

// Key identifies a record.
type Key struct {
	Subject ref.UserID
	Target  ref.RoomID
	Action  Action
}

// Key returns the record's identity.
func (r Record) Key() Key {
	return Key{Subject: r.Subject, Target: r.Target, Action: r.Action}
}

// Due reports whether reconciliation should attempt r at now. Pending
// records are always due: they are either fresh or left over from a
// crash mid-propagation.
func (r Record) Due(now time.Time) bool {
	switch r.Status {
	case StatusPending:
		return true
	case StatusFailed:
		return !r.Permanent && !r.NextAttemptAt.After(now)
	default:
		return false
	}
}

// Issuer is the principal on whose behalf a ban changes.
type Issuer struct {
	UserID ref.UserID
	Level  int
}

// PermissionError reports an issuer below the required level.
type PermissionError struct {
	Action   Action
	Required int
	Actual   int
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("bansync: %s requires level %d, issuer has %d", e.Action, e.Required, e.Actual)
}

// Summary counts entries and records by state.
type Summary struct {
	Entries   int
	Pending   int
	Applied   int
	Failed    int
	Permanent int
}

func newRecords(subject ref.UserID, action Action, reason string, targets []ref.RoomID) []Record {
	records := make([]Record, 0, len(targets))
	for _, target := range targets {
		records = append(records, Record{
			Subject: subject,
			Target:  target,
			Action:  action,
			Status:  StatusPending,
			Reason:  reason,
		})
	}
	return records
}
