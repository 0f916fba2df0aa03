// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bansync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/bureau-foundation/childserv/lib/clock"
	"github.com/bureau-foundation/childserv/lib/dispatch"
	"github.com/bureau-foundation/childserv/lib/ref"
	"github.com/bureau-foundation/childserv/messaging"
)

// Gateway applies bans. *messaging.DirectSession satisfies it.
type Gateway interface {
	BanUser(ctx context.Context, roomID ref.RoomID, userID ref.UserID, reason string) error
	UnbanUser(ctx context.Context, roomID ref.RoomID, userID ref.UserID) error
}

// Submitter runs tasks on the event loop. *dispatch.Loop satisfies it.
type Submitter interface {
	Submit(key string, task dispatch.Task) bool
}

// Config configures a Synchronizer.
type Config struct {
	Store   Store
	Gateway Gateway
	Loop    Submitter
	Clock   clock.Clock

	Targets []ref.RoomID

	// BanLevel and UnbanLevel are the issuer levels required to
	// change the ban list.
	BanLevel   int
	UnbanLevel int

	BackoffBase time.Duration
	BackoffMax  time.Duration
	MaxAttempts int
	// Workers bounds concurrent gateway calls.
	Workers     int
	CallTimeout time.Duration

	Alert  func(ctx context.Context, message string)
	Logger *slog.Logger
}

// Synchronizer replicates the ban list across target rooms.
type Synchronizer struct {
	store   Store
	gateway Gateway
	loop    Submitter
	clock   clock.Clock
	logger  *slog.Logger
	alert   func(ctx context.Context, message string)

	banLevel    int
	unbanLevel  int
	backoffBase time.Duration
	backoffMax  time.Duration
	maxAttempts int
	workers     int
	callTimeout time.Duration
	slots       *semaphore.Weighted

	mu      sync.Mutex
	targets map[ref.RoomID]bool
}

// New returns a Synchronizer. Zero tuning values take the defaults:
// 30s base backoff, 30m cap, 8 attempts, 4 workers, 15s call timeout.
func New(config Config) (*Synchronizer, error) {
	if config.Store == nil || config.Gateway == nil || config.Loop == nil {
		return nil, fmt.Errorf("bansync: store, gateway and loop are required")
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.BackoffBase <= 0 {
		config.BackoffBase = 30 * time.Second
	}
	if config.BackoffMax <= 0 {
		config.BackoffMax = 30 * time.Minute
	}
	if config.BackoffMax < config.BackoffBase {
		return nil, fmt.Errorf("bansync: backoff max %s is below base %s", config.BackoffMax, config.BackoffBase)
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 8
	}
	if config.Workers <= 0 {
		config.Workers = 4
	}
	if config.CallTimeout <= 0 {
		config.CallTimeout = 15 * time.Second
	}

	synchronizer := &Synchronizer{
		store:       config.Store,
		gateway:     config.Gateway,
		loop:        config.Loop,
		clock:       config.Clock,
		logger:      config.Logger,
		alert:       config.Alert,
		banLevel:    config.BanLevel,
		unbanLevel:  config.UnbanLevel,
		backoffBase: config.BackoffBase,
		backoffMax:  config.BackoffMax,
		maxAttempts: config.MaxAttempts,
		workers:     config.Workers,
		callTimeout: config.CallTimeout,
		slots:       semaphore.NewWeighted(int64(config.Workers)),
		targets:     make(map[ref.RoomID]bool),
	}
	for _, target := range config.Targets {
		synchronizer.targets[target] = true
	}
	return synchronizer, nil
}

// LaneKey is the event loop key for all propagation of subject.
func LaneKey(subject ref.UserID) string {
	return "bansync:" + subject.String()
}

// Init aligns stored records with the configured targets: every
// existing ban gains a pending record for targets it has none for, and
// records for rooms no longer targeted are dropped. Call once at
// startup before Reconcile.
func (s *Synchronizer) Init(ctx context.Context) error {
	entries, err := s.store.Entries(ctx)
	if err != nil {
		return err
	}
	records, err := s.store.AllRecords(ctx)
	if err != nil {
		return err
	}
	targets := s.Targets()

	existing := make(map[Key]bool, len(records))
	stale := make(map[ref.RoomID]bool)
	for _, record := range records {
		existing[record.Key()] = true
		if !s.IsTarget(record.Target) {
			stale[record.Target] = true
		}
	}
	for target := range stale {
		removed, err := s.store.DeleteTarget(ctx, target)
		if err != nil {
			return err
		}
		s.logger.Info("dropped records for room no longer targeted", "room_id", target.String(), "records", removed)
	}

	var missing []Record
	for _, entry := range entries {
		for _, target := range targets {
			key := Key{Subject: entry.Subject, Target: target, Action: ActionBan}
			if !existing[key] {
				missing = append(missing, newRecords(entry.Subject, ActionBan, entry.Reason, []ref.RoomID{target})...)
			}
		}
	}
	if len(missing) > 0 {
		if err := s.store.PutRecords(ctx, missing); err != nil {
			return err
		}
		s.logger.Info("queued existing bans for new target rooms", "records", len(missing))
	}
	return nil
}

// IssueBan adds subject to the ban list and starts propagation. The
// returned entry is durable; propagation continues after return.
func (s *Synchronizer) IssueBan(ctx context.Context, subject ref.UserID, reason string, issuer Issuer) (Entry, error) {
	if issuer.Level < s.banLevel {
		return Entry{}, &PermissionError{Action: ActionBan, Required: s.banLevel, Actual: issuer.Level}
	}
	if subject.IsZero() {
		return Entry{}, fmt.Errorf("bansync: empty subject")
	}
	entry := Entry{
		Subject:  subject,
		Reason:   reason,
		IssuedAt: s.clock.Now(),
		IssuedBy: issuer.UserID,
	}
	records := newRecords(subject, ActionBan, reason, s.Targets())
	if err := s.store.IssueEntry(ctx, entry, records); err != nil {
		return Entry{}, fmt.Errorf("bansync: banning %s: %w", subject, err)
	}
	s.logger.Info("ban issued",
		"subject", subject.String(),
		"issuer", issuer.UserID.String(),
		"targets", len(records),
	)
	s.schedulePropagation(subject)
	return entry, nil
}

// RevokeBan removes subject from the ban list and starts unbanning.
func (s *Synchronizer) RevokeBan(ctx context.Context, subject ref.UserID, issuer Issuer) error {
	if issuer.Level < s.unbanLevel {
		return &PermissionError{Action: ActionUnban, Required: s.unbanLevel, Actual: issuer.Level}
	}
	records := newRecords(subject, ActionUnban, "", s.Targets())
	if err := s.store.RevokeEntry(ctx, subject, records); err != nil {
		return fmt.Errorf("bansync: unbanning %s: %w", subject, err)
	}
	s.logger.Info("ban revoked",
		"subject", subject.String(),
		"issuer", issuer.UserID.String(),
		"targets", len(records),
	)
	s.schedulePropagation(subject)
	return nil
}

func (s *Synchronizer) schedulePropagation(subject ref.UserID) {
	s.loop.Submit(LaneKey(subject), func(ctx context.Context) {
		s.propagateSubject(ctx, subject)
	})
}

// propagateSubject attempts every due record of subject, fanning out
// across target rooms.
func (s *Synchronizer) propagateSubject(ctx context.Context, subject ref.UserID) {
	records, err := s.store.Records(ctx, subject)
	if err != nil {
		s.logger.Error("loading records failed", "subject", subject.String(), "error", err)
		return
	}
	now := s.clock.Now()

	group, groupContext := errgroup.WithContext(ctx)
	group.SetLimit(s.workers)
	for _, record := range records {
		if !record.Due(now) {
			continue
		}
		group.Go(func() error {
			s.Propagate(groupContext, record)
			return nil
		})
	}
	group.Wait()
}

// Propagate applies one record to its target room and stores the
// outcome, which it also returns.
func (s *Synchronizer) Propagate(ctx context.Context, record Record) Record {
	logger := s.logger.With(
		"subject", record.Subject.String(),
		"room_id", record.Target.String(),
		"action", string(record.Action),
	)

	// A retry goes back through pending: failed records only ever
	// become applied by way of a fresh attempt.
	if record.Status == StatusFailed {
		record.Status = StatusPending
		if err := s.storeOutcome(ctx, logger, record); err != nil {
			return record
		}
	}

	if err := s.slots.Acquire(ctx, 1); err != nil {
		return record
	}
	callContext, cancel := context.WithTimeout(ctx, s.callTimeout)
	var err error
	switch record.Action {
	case ActionBan:
		err = s.gateway.BanUser(callContext, record.Target, record.Subject, record.Reason)
	case ActionUnban:
		err = s.gateway.UnbanUser(callContext, record.Target, record.Subject)
	default:
		err = fmt.Errorf("bansync: unknown action %q", record.Action)
	}
	cancel()
	s.slots.Release(1)

	now := s.clock.Now()
	record.LastAttemptAt = now

	if err == nil {
		record.Status = StatusApplied
		record.NextAttemptAt = time.Time{}
		record.LastError = ""
		logger.Info("propagation applied")
	} else {
		record.Status = StatusFailed
		record.Attempts++
		record.LastError = err.Error()
		switch {
		case messaging.IsPermanent(err):
			record.Permanent = true
			record.NextAttemptAt = time.Time{}
			logger.Error("propagation failed permanently", "error", err)
		case record.Attempts >= s.maxAttempts:
			record.Permanent = true
			record.NextAttemptAt = time.Time{}
			logger.Error("propagation gave up", "attempts", record.Attempts, "error", err)
		default:
			delay := s.Backoff(record.Attempts)
			var matrixErr *messaging.MatrixError
			if errors.As(err, &matrixErr) && matrixErr.RetryAfterMS > 0 {
				delay = max(delay, time.Duration(matrixErr.RetryAfterMS)*time.Millisecond)
			}
			record.NextAttemptAt = now.Add(delay)
			logger.Warn("propagation failed, will retry",
				"attempts", record.Attempts,
				"next_attempt_at", record.NextAttemptAt,
				"error", err,
			)
		}
	}

	if err := s.storeOutcome(ctx, logger, record); err != nil {
		return record
	}

	if record.Permanent {
		s.report(ctx, record)
	}
	return record
}

// storeOutcome writes record back with a fresh context: the outcome of
// a call that did happen must be recorded even during shutdown.
func (s *Synchronizer) storeOutcome(ctx context.Context, logger *slog.Logger, record Record) error {
	storeContext, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.callTimeout)
	defer cancel()
	err := s.store.UpdateRecord(storeContext, record)
	switch {
	case err == nil:
	case errors.Is(err, ErrRecordNotFound):
		logger.Debug("record superseded during propagation")
	default:
		logger.Error("storing propagation state failed", "status", string(record.Status), "error", err)
	}
	return err
}

// Backoff is the delay before retry number attempts+1:
// min(base * 2^(attempts-1), max).
func (s *Synchronizer) Backoff(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	delay := s.backoffBase
	for range attempts - 1 {
		delay *= 2
		if delay >= s.backoffMax {
			return s.backoffMax
		}
	}
	return min(delay, s.backoffMax)
}

func (s *Synchronizer) report(ctx context.Context, record Record) {
	if s.alert == nil {
		return
	}
	verb := "ban"
	if record.Action == ActionUnban {
		verb = "unban"
	}
	s.alert(ctx, fmt.Sprintf("Could not %s %s in %s after %d attempt(s): %s",
		verb, record.Subject, record.Target, record.Attempts, record.LastError))
}

// Reconcile queues propagation for every subject with due records and
// returns how many subjects were queued.
func (s *Synchronizer) Reconcile(ctx context.Context) (int, error) {
	subjects, err := s.store.DueSubjects(ctx, s.clock.Now())
	if err != nil {
		return 0, err
	}
	for _, subject := range subjects {
		s.schedulePropagation(subject)
	}
	if len(subjects) > 0 {
		s.logger.Info("reconciliation queued", "subjects", len(subjects))
	}
	return len(subjects), nil
}

// RetryPermanent re-arms subject's terminally failed records and
// returns how many were re-armed.
func (s *Synchronizer) RetryPermanent(ctx context.Context, subject ref.UserID) (int, error) {
	records, err := s.store.Records(ctx, subject)
	if err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return 0, ErrNotFound
	}
	var rearmed []Record
	for _, record := range records {
		if record.Status != StatusFailed || !record.Permanent {
			continue
		}
		record.Status = StatusPending
		record.Permanent = false
		record.Attempts = 0
		record.NextAttemptAt = time.Time{}
		rearmed = append(rearmed, record)
	}
	if len(rearmed) == 0 {
		return 0, nil
	}
	if err := s.store.PutRecords(ctx, rearmed); err != nil {
		return 0, err
	}
	s.logger.Info("permanent failures re-armed", "subject", subject.String(), "records", len(rearmed))
	s.schedulePropagation(subject)
	return len(rearmed), nil
}

// AddTarget starts replicating the ban list to roomID and queues every
// existing ban for it. Returns false if roomID was already a target.
func (s *Synchronizer) AddTarget(ctx context.Context, roomID ref.RoomID) (bool, error) {
	s.mu.Lock()
	if s.targets[roomID] {
		s.mu.Unlock()
		return false, nil
	}
	s.targets[roomID] = true
	s.mu.Unlock()

	entries, err := s.store.Entries(ctx)
	if err == nil {
		var records []Record
		for _, entry := range entries {
			records = append(records, newRecords(entry.Subject, ActionBan, entry.Reason, []ref.RoomID{roomID})...)
		}
		err = s.store.PutRecords(ctx, records)
	}
	if err != nil {
		s.mu.Lock()
		delete(s.targets, roomID)
		s.mu.Unlock()
		return false, err
	}
	s.logger.Info("ban target added", "room_id", roomID.String(), "bans", len(entries))
	for _, entry := range entries {
		s.schedulePropagation(entry.Subject)
	}
	return true, nil
}

// RemoveTarget stops replicating to roomID and drops its records. Bans
// already applied there stay in place.
func (s *Synchronizer) RemoveTarget(ctx context.Context, roomID ref.RoomID) (bool, error) {
	s.mu.Lock()
	if !s.targets[roomID] {
		s.mu.Unlock()
		return false, nil
	}
	delete(s.targets, roomID)
	s.mu.Unlock()

	removed, err := s.store.DeleteTarget(ctx, roomID)
	if err != nil {
		s.mu.Lock()
		s.targets[roomID] = true
		s.mu.Unlock()
		return false, err
	}
	s.logger.Info("ban target removed", "room_id", roomID.String(), "records", removed)
	return true, nil
}

// IsTarget reports whether roomID receives bans.
func (s *Synchronizer) IsTarget(roomID ref.RoomID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.targets[roomID]
}

// Targets returns the target rooms, sorted.
func (s *Synchronizer) Targets() []ref.RoomID {
	s.mu.Lock()
	targets := make([]ref.RoomID, 0, len(s.targets))
	for target := range s.targets {
		targets = append(targets, target)
	}
	s.mu.Unlock()
	slices.SortFunc(targets, func(a, b ref.RoomID) int { return strings.Compare(a.String(), b.String()) })
	return targets
}

// Entries returns the ban list, oldest first.
func (s *Synchronizer) Entries(ctx context.Context) ([]Entry, error) {
	return s.store.Entries(ctx)
}

// Records returns subject's propagation records.
func (s *Synchronizer) Records(ctx context.Context, subject ref.UserID) ([]Record, error) {
	return s.store.Records(ctx, subject)
}

// Summary counts entries and records by state.
func (s *Synchronizer) Summary(ctx context.Context) (Summary, error) {
	entries, err := s.store.Entries(ctx)
	if err != nil {
		return Summary{}, err
	}
	records, err := s.store.AllRecords(ctx)
	if err != nil {
		return Summary{}, err
	}
	summary := Summary{Entries: len(entries)}
	for _, record := range records {
		switch {
		case record.Status == StatusApplied:
			summary.Applied++
		case record.Status == StatusPending:
			summary.Pending++
		case record.Permanent:
			summary.Permanent++
		default:
			summary.Failed++
		}
	}
	return summary, nil
}
