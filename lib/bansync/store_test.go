// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bansync

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/bureau-foundation/childserv/lib/ref"
)

// storeFactories runs each store test against both implementations.
func storeFactories() map[string]func(t *testing.T) Store {
	return map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store { return NewMemoryStore() },
		"sqlite": func(t *testing.T) Store {
			store, err := OpenSQLiteStore(filepath.Join(t.TempDir(), "bans.db"), nil)
			if err != nil {
				t.Fatalf("OpenSQLiteStore: %v", err)
			}
			t.Cleanup(func() { store.Close() })
			return store
		},
		"sqlite-memory": func(t *testing.T) Store {
			store, err := OpenSQLiteStore(":memory:", nil)
			if err != nil {
				t.Fatalf("OpenSQLiteStore: %v", err)
			}
			t.Cleanup(func() { store.Close() })
			return store
		},
	}
}

func TestStoreIssueAndRevoke(t *testing.T) {
	for name, factory := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			store := factory(t)
			ctx := context.Background()
			entry := Entry{Subject: troll, Reason: "spam", IssuedAt: epoch, IssuedBy: operator.UserID}

			if err := store.IssueEntry(ctx, entry, newRecords(troll, ActionBan, "spam", []ref.RoomID{roomA, roomB})); err != nil {
				t.Fatalf("IssueEntry: %v", err)
			}
			if err := store.IssueEntry(ctx, entry, nil); !errors.Is(err, ErrAlreadyBanned) {
				t.Errorf("duplicate IssueEntry = %v, want ErrAlreadyBanned", err)
			}

			entries, err := store.Entries(ctx)
			if err != nil {
				t.Fatalf("Entries: %v", err)
			}
			if len(entries) != 1 || !entriesEqual(entries[0], entry) {
				t.Errorf("Entries() = %+v", entries)
			}

			records, err := store.Records(ctx, troll)
			if err != nil {
				t.Fatalf("Records: %v", err)
			}
			if len(records) != 2 || records[0].Target != roomA || records[0].Reason != "spam" || records[0].Status != StatusPending {
				t.Errorf("Records() = %+v", records)
			}

			if err := store.RevokeEntry(ctx, troll, newRecords(troll, ActionUnban, "", []ref.RoomID{roomA})); err != nil {
				t.Fatalf("RevokeEntry: %v", err)
			}
			if err := store.RevokeEntry(ctx, troll, nil); !errors.Is(err, ErrNotFound) {
				t.Errorf("second RevokeEntry = %v, want ErrNotFound", err)
			}
			records, _ = store.Records(ctx, troll)
			if len(records) != 1 || records[0].Action != ActionUnban {
				t.Errorf("records after revoke = %+v", records)
			}
		})
	}
}

func TestStoreUpdateAndDue(t *testing.T) {
	for name, factory := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			store := factory(t)
			ctx := context.Background()
			store.IssueEntry(ctx, Entry{Subject: troll, IssuedAt: epoch, IssuedBy: operator.UserID},
				newRecords(troll, ActionBan, "", []ref.RoomID{roomA, roomB}))
			store.IssueEntry(ctx, Entry{Subject: spammer, IssuedAt: epoch, IssuedBy: operator.UserID},
				newRecords(spammer, ActionBan, "", []ref.RoomID{roomA}))

			update := func(record Record) {
				t.Helper()
				if err := store.UpdateRecord(ctx, record); err != nil {
					t.Fatalf("UpdateRecord: %v", err)
				}
			}
			update(Record{Subject: troll, Target: roomA, Action: ActionBan, Status: StatusApplied, LastAttemptAt: epoch})
			update(Record{
				Subject: troll, Target: roomB, Action: ActionBan, Status: StatusFailed,
				Attempts: 2, LastAttemptAt: epoch, NextAttemptAt: epoch.Add(time.Minute), LastError: "timeout",
			})
			update(Record{Subject: spammer, Target: roomA, Action: ActionBan, Status: StatusFailed, Permanent: true, Attempts: 1})

			subjects, err := store.DueSubjects(ctx, epoch)
			if err != nil {
				t.Fatalf("DueSubjects: %v", err)
			}
			if len(subjects) != 0 {
				t.Errorf("due before backoff: %v", subjects)
			}
			subjects, _ = store.DueSubjects(ctx, epoch.Add(time.Minute))
			if len(subjects) != 1 || subjects[0] != troll {
				t.Errorf("due after backoff: %v", subjects)
			}

			records, _ := store.Records(ctx, troll)
			failed := records[1]
			if failed.Attempts != 2 || failed.LastError != "timeout" || !failed.NextAttemptAt.Equal(epoch.Add(time.Minute)) {
				t.Errorf("failed record round trip = %+v", failed)
			}
			if !records[0].NextAttemptAt.IsZero() {
				t.Errorf("zero time round trip = %v", records[0].NextAttemptAt)
			}
			permanent, _ := store.Records(ctx, spammer)
			if !permanent[0].Permanent {
				t.Error("permanent flag lost")
			}

			missing := Record{Subject: troll, Target: roomC, Action: ActionBan, Status: StatusApplied}
			if err := store.UpdateRecord(ctx, missing); !errors.Is(err, ErrRecordNotFound) {
				t.Errorf("UpdateRecord of missing record = %v", err)
			}
		})
	}
}

func TestStorePutAndDeleteTarget(t *testing.T) {
	for name, factory := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			store := factory(t)
			ctx := context.Background()
			store.IssueEntry(ctx, Entry{Subject: troll, IssuedAt: epoch, IssuedBy: operator.UserID},
				newRecords(troll, ActionBan, "", []ref.RoomID{roomA}))

			if err := store.PutRecords(ctx, newRecords(troll, ActionBan, "", []ref.RoomID{roomA, roomB})); err != nil {
				t.Fatalf("PutRecords: %v", err)
			}
			all, _ := store.AllRecords(ctx)
			if len(all) != 2 {
				t.Fatalf("AllRecords() = %d records, want 2 (put replaces by key)", len(all))
			}

			removed, err := store.DeleteTarget(ctx, roomA)
			if err != nil || removed != 1 {
				t.Errorf("DeleteTarget = %d, %v; want 1", removed, err)
			}
			all, _ = store.AllRecords(ctx)
			if len(all) != 1 || all[0].Target != roomB {
				t.Errorf("records after delete = %+v", all)
			}
		})
	}
}

func TestSQLiteStorePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bans.db")
	ctx := context.Background()

	first, err := OpenSQLiteStore(path, nil)
	if err != nil {
		t.Fatalf("OpenSQLiteStore: %v", err)
	}
	first.IssueEntry(ctx, Entry{Subject: troll, Reason: "spam", IssuedAt: epoch, IssuedBy: operator.UserID},
		newRecords(troll, ActionBan, "spam", []ref.RoomID{roomA}))
	if err := first.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	second, err := OpenSQLiteStore(path, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer second.Close()
	subjects, err := second.DueSubjects(ctx, epoch)
	if err != nil || len(subjects) != 1 {
		t.Errorf("pending work lost across reopen: %v, %v", subjects, err)
	}
}

func entriesEqual(a, b Entry) bool {
	return a.Subject == b.Subject && a.Reason == b.Reason && a.IssuedAt.Equal(b.IssuedAt) && a.IssuedBy == b.IssuedBy
}
