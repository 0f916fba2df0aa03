// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bansync

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/bureau-foundation/childserv/lib/ref"
)

// Store persists entries and records. Each method is atomic.
type Store interface {
	// IssueEntry inserts entry and its ban records, deleting any
	// unban records of the subject. Returns ErrAlreadyBanned if the
	// subject has an entry.
	IssueEntry(ctx context.Context, entry Entry, records []Record) error

	// RevokeEntry deletes subject's entry and ban records and inserts
	// records (the unban set), replacing older unban records. Returns
	// ErrNotFound if the subject has no entry.
	RevokeEntry(ctx context.Context, subject ref.UserID, records []Record) error

	Entries(ctx context.Context) ([]Entry, error)
	Records(ctx context.Context, subject ref.UserID) ([]Record, error)
	AllRecords(ctx context.Context) ([]Record, error)

	// DueSubjects returns every subject with at least one record due
	// at now.
	DueSubjects(ctx context.Context, now time.Time) ([]ref.UserID, error)

	// UpdateRecord overwrites a record's state. Returns
	// ErrRecordNotFound if the record no longer exists.
	UpdateRecord(ctx context.Context, record Record) error

	// PutRecords inserts records, replacing existing ones with the
	// same key.
	PutRecords(ctx context.Context, records []Record) error

	// DeleteTarget removes every record for target and returns how
	// many were removed.
	DeleteTarget(ctx context.Context, target ref.RoomID) (int, error)

	Close() error
}

// MemoryStore is an in-memory Store for tests.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[ref.UserID]Entry
	records map[Key]Record
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[ref.UserID]Entry),
		records: make(map[Key]Record),
	}
}

func (s *MemoryStore) IssueEntry(_ context.Context, entry Entry, records []Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[entry.Subject]; exists {
		return ErrAlreadyBanned
	}
	s.entries[entry.Subject] = entry
	s.deleteLocked(entry.Subject, ActionUnban)
	for _, record := range records {
		s.records[record.Key()] = record
	}
	return nil
}

func (s *MemoryStore) RevokeEntry(_ context.Context, subject ref.UserID, records []Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[subject]; !exists {
		return ErrNotFound
	}
	delete(s.entries, subject)
	s.deleteLocked(subject, ActionBan)
	s.deleteLocked(subject, ActionUnban)
	for _, record := range records {
		s.records[record.Key()] = record
	}
	return nil
}

func (s *MemoryStore) deleteLocked(subject ref.UserID, action Action) {
	for key := range s.records {
		if key.Subject == subject && key.Action == action {
			delete(s.records, key)
		}
	}
}

func (s *MemoryStore) Entries(context.Context) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := make([]Entry, 0, len(s.entries))
	for _, entry := range s.entries {
		entries = append(entries, entry)
	}
	slices.SortFunc(entries, func(a, b Entry) int {
		if c := a.IssuedAt.Compare(b.IssuedAt); c != 0 {
			return c
		}
		return strings.Compare(a.Subject.String(), b.Subject.String())
	})
	return entries, nil
}

func (s *MemoryStore) Records(_ context.Context, subject ref.UserID) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var records []Record
	for key, record := range s.records {
		if key.Subject == subject {
			records = append(records, record)
		}
	}
	sortRecords(records)
	return records, nil
}

func (s *MemoryStore) AllRecords(context.Context) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	records := make([]Record, 0, len(s.records))
	for _, record := range s.records {
		records = append(records, record)
	}
	sortRecords(records)
	return records, nil
}

func (s *MemoryStore) DueSubjects(_ context.Context, now time.Time) ([]ref.UserID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[ref.UserID]bool)
	var subjects []ref.UserID
	for key, record := range s.records {
		if record.Due(now) && !seen[key.Subject] {
			seen[key.Subject] = true
			subjects = append(subjects, key.Subject)
		}
	}
	slices.SortFunc(subjects, func(a, b ref.UserID) int { return strings.Compare(a.String(), b.String()) })
	return subjects, nil
}

func (s *MemoryStore) UpdateRecord(_ context.Context, record Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[record.Key()]; !exists {
		return ErrRecordNotFound
	}
	s.records[record.Key()] = record
	return nil
}

func (s *MemoryStore) PutRecords(_ context.Context, records []Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, record := range records {
		s.records[record.Key()] = record
	}
	return nil
}

func (s *MemoryStore) DeleteTarget(_ context.Context, target ref.RoomID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for key := range s.records {
		if key.Target == target {
			delete(s.records, key)
			removed++
		}
	}
	return removed, nil
}

func (s *MemoryStore) Close() error { return nil }

func sortRecords(records []Record) {
	slices.SortFunc(records, func(a, b Record) int {
		if c := strings.Compare(a.Subject.String(), b.Subject.String()); c != 0 {
			return c
		}
		if c := strings.Compare(string(a.Action), string(b.Action)); c != 0 {
			return c
		}
		return strings.Compare(a.Target.String(), b.Target.String())
	})
}
