// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bansync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/childserv/lib/ref"
	"github.com/bureau-foundation/childserv/lib/sqlitepool"
)

// migrations is the ban database schema history. Append only.
var migrations = []string{
	`
CREATE TABLE ban_entries (
	subject   TEXT PRIMARY KEY,
	reason    TEXT NOT NULL DEFAULT '',
	issued_at INTEGER NOT NULL,
	issued_by TEXT NOT NULL
) STRICT;

CREATE TABLE propagation_records (
	subject         TEXT NOT NULL,
	target          TEXT NOT NULL,
	action          TEXT NOT NULL CHECK (action IN ('ban', 'unban')),
	status          TEXT NOT NULL CHECK (status IN ('pending', 'applied', 'failed')),
	reason          TEXT NOT NULL DEFAULT '',
	last_attempt_at INTEGER NOT NULL DEFAULT 0,
	next_attempt_at INTEGER NOT NULL DEFAULT 0,
	attempts        INTEGER NOT NULL DEFAULT 0,
	permanent       INTEGER NOT NULL DEFAULT 0,
	last_error      TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (subject, target, action)
) STRICT;

CREATE INDEX propagation_records_due ON propagation_records (status, next_attempt_at);
CREATE INDEX propagation_records_target ON propagation_records (target);
`,
}

const recordColumns = `subject, target, action, status, reason, last_attempt_at,
	next_attempt_at, attempts, permanent, last_error`

// SQLiteStore is the durable Store.
type SQLiteStore struct {
	pool *sqlitepool.Pool
}

// OpenSQLiteStore opens (creating and migrating as needed) the ban
// database at path.
func OpenSQLiteStore(path string, logger *slog.Logger) (*SQLiteStore, error) {
	poolSize := 4
	if path == ":memory:" {
		// Each connection would get its own empty database.
		poolSize = 1
	}
	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:       path,
		PoolSize:   poolSize,
		Migrations: migrations,
		Logger:     logger,
	})
	if err != nil {
		return nil, fmt.Errorf("bansync: %w", err)
	}
	return &SQLiteStore{pool: pool}, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error { return s.pool.Close() }

func (s *SQLiteStore) read(ctx context.Context, fn func(conn *sqlite.Conn) error) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("bansync: %w", err)
	}
	defer s.pool.Put(conn)
	return fn(conn)
}

func (s *SQLiteStore) write(ctx context.Context, fn func(conn *sqlite.Conn) error) error {
	return s.read(ctx, func(conn *sqlite.Conn) (err error) {
		endTransaction, err := sqlitex.ImmediateTransaction(conn)
		if err != nil {
			return fmt.Errorf("bansync: begin: %w", err)
		}
		defer endTransaction(&err)
		return fn(conn)
	})
}

func (s *SQLiteStore) IssueEntry(ctx context.Context, entry Entry, records []Record) error {
	return s.write(ctx, func(conn *sqlite.Conn) error {
		exists := false
		err := sqlitex.Execute(conn, `SELECT 1 FROM ban_entries WHERE subject = ?`, &sqlitex.ExecOptions{
			Args: []any{entry.Subject.String()},
			ResultFunc: func(*sqlite.Stmt) error {
				exists = true
				return nil
			},
		})
		if err != nil {
			return fmt.Errorf("bansync: checking entry: %w", err)
		}
		if exists {
			return ErrAlreadyBanned
		}
		err = sqlitex.Execute(conn,
			`INSERT INTO ban_entries (subject, reason, issued_at, issued_by) VALUES (?, ?, ?, ?)`,
			&sqlitex.ExecOptions{Args: []any{
				entry.Subject.String(), entry.Reason, encodeTime(entry.IssuedAt), entry.IssuedBy.String(),
			}})
		if err != nil {
			return fmt.Errorf("bansync: inserting entry: %w", err)
		}
		if err := deleteRecords(conn, entry.Subject, ActionUnban); err != nil {
			return err
		}
		return putRecords(conn, records)
	})
}

func (s *SQLiteStore) RevokeEntry(ctx context.Context, subject ref.UserID, records []Record) error {
	return s.write(ctx, func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn, `DELETE FROM ban_entries WHERE subject = ?`, &sqlitex.ExecOptions{
			Args: []any{subject.String()},
		})
		if err != nil {
			return fmt.Errorf("bansync: deleting entry: %w", err)
		}
		if conn.Changes() == 0 {
			return ErrNotFound
		}
		if err := deleteRecords(conn, subject, ActionBan); err != nil {
			return err
		}
		if err := deleteRecords(conn, subject, ActionUnban); err != nil {
			return err
		}
		return putRecords(conn, records)
	})
}

func deleteRecords(conn *sqlite.Conn, subject ref.UserID, action Action) error {
	err := sqlitex.Execute(conn, `DELETE FROM propagation_records WHERE subject = ? AND action = ?`,
		&sqlitex.ExecOptions{Args: []any{subject.String(), string(action)}})
	if err != nil {
		return fmt.Errorf("bansync: deleting %s records: %w", action, err)
	}
	return nil
}

func putRecords(conn *sqlite.Conn, records []Record) error {
	for _, record := range records {
		err := sqlitex.Execute(conn,
			`INSERT OR REPLACE INTO propagation_records (`+recordColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			&sqlitex.ExecOptions{Args: []any{
				record.Subject.String(),
				record.Target.String(),
				string(record.Action),
				string(record.Status),
				record.Reason,
				encodeTime(record.LastAttemptAt),
				encodeTime(record.NextAttemptAt),
				record.Attempts,
				record.Permanent,
				record.LastError,
			}})
		if err != nil {
			return fmt.Errorf("bansync: writing record %s/%s: %w", record.Subject, record.Target, err)
		}
	}
	return nil
}

func (s *SQLiteStore) Entries(ctx context.Context) ([]Entry, error) {
	var entries []Entry
	err := s.read(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn,
			`SELECT subject, reason, issued_at, issued_by FROM ban_entries ORDER BY issued_at, subject`,
			&sqlitex.ExecOptions{ResultFunc: func(stmt *sqlite.Stmt) error {
				subject, err := ref.ParseUserID(stmt.ColumnText(0))
				if err != nil {
					return fmt.Errorf("bansync: stored subject: %w", err)
				}
				issuedBy, err := ref.ParseUserID(stmt.ColumnText(3))
				if err != nil {
					return fmt.Errorf("bansync: stored issuer: %w", err)
				}
				entries = append(entries, Entry{
					Subject:  subject,
					Reason:   stmt.ColumnText(1),
					IssuedAt: decodeTime(stmt.ColumnInt64(2)),
					IssuedBy: issuedBy,
				})
				return nil
			}})
	})
	if err != nil {
		return nil, fmt.Errorf("bansync: listing entries: %w", err)
	}
	return entries, nil
}

func (s *SQLiteStore) Records(ctx context.Context, subject ref.UserID) ([]Record, error) {
	return s.queryRecords(ctx,
		`SELECT `+recordColumns+` FROM propagation_records WHERE subject = ?
		ORDER BY subject, action, target`,
		subject.String())
}

func (s *SQLiteStore) AllRecords(ctx context.Context) ([]Record, error) {
	return s.queryRecords(ctx,
		`SELECT `+recordColumns+` FROM propagation_records ORDER BY subject, action, target`)
}

func (s *SQLiteStore) queryRecords(ctx context.Context, query string, args ...any) ([]Record, error) {
	var records []Record
	err := s.read(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
			Args: args,
			ResultFunc: func(stmt *sqlite.Stmt) error {
				record, err := scanRecord(stmt)
				if err != nil {
					return err
				}
				records = append(records, record)
				return nil
			},
		})
	})
	if err != nil {
		return nil, fmt.Errorf("bansync: listing records: %w", err)
	}
	return records, nil
}

func scanRecord(stmt *sqlite.Stmt) (Record, error) {
	subject, err := ref.ParseUserID(stmt.ColumnText(0))
	if err != nil {
		return Record{}, fmt.Errorf("bansync: stored subject: %w", err)
	}
	target, err := ref.ParseRoomID(stmt.ColumnText(1))
	if err != nil {
		return Record{}, fmt.Errorf("bansync: stored target: %w", err)
	}
	return Record{
		Subject:       subject,
		Target:        target,
		Action:        Action(stmt.ColumnText(2)),
		Status:        Status(stmt.ColumnText(3)),
		Reason:        stmt.ColumnText(4),
		LastAttemptAt: decodeTime(stmt.ColumnInt64(5)),
		NextAttemptAt: decodeTime(stmt.ColumnInt64(6)),
		Attempts:      stmt.ColumnInt(7),
		Permanent:     stmt.ColumnBool(8),
		LastError:     stmt.ColumnText(9),
	}, nil
}

func (s *SQLiteStore) DueSubjects(ctx context.Context, now time.Time) ([]ref.UserID, error) {
	var subjects []ref.UserID
	err := s.read(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn,
			`SELECT DISTINCT subject FROM propagation_records
			WHERE status = 'pending'
				OR (status = 'failed' AND permanent = 0 AND next_attempt_at <= ?)
			ORDER BY subject`,
			&sqlitex.ExecOptions{
				Args: []any{encodeTime(now)},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					subject, err := ref.ParseUserID(stmt.ColumnText(0))
					if err != nil {
						return fmt.Errorf("bansync: stored subject: %w", err)
					}
					subjects = append(subjects, subject)
					return nil
				},
			})
	})
	if err != nil {
		return nil, fmt.Errorf("bansync: listing due subjects: %w", err)
	}
	return subjects, nil
}

func (s *SQLiteStore) UpdateRecord(ctx context.Context, record Record) error {
	return s.write(ctx, func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn,
			`UPDATE propagation_records
			SET status = ?, reason = ?, last_attempt_at = ?, next_attempt_at = ?,
				attempts = ?, permanent = ?, last_error = ?
			WHERE subject = ? AND target = ? AND action = ?`,
			&sqlitex.ExecOptions{Args: []any{
				string(record.Status),
				record.Reason,
				encodeTime(record.LastAttemptAt),
				encodeTime(record.NextAttemptAt),
				record.Attempts,
				record.Permanent,
				record.LastError,
				record.Subject.String(),
				record.Target.String(),
				string(record.Action),
			}})
		if err != nil {
			return fmt.Errorf("bansync: updating record: %w", err)
		}
		if conn.Changes() == 0 {
			return ErrRecordNotFound
		}
		return nil
	})
}

func (s *SQLiteStore) PutRecords(ctx context.Context, records []Record) error {
	return s.write(ctx, func(conn *sqlite.Conn) error {
		return putRecords(conn, records)
	})
}

func (s *SQLiteStore) DeleteTarget(ctx context.Context, target ref.RoomID) (int, error) {
	var removed int
	err := s.write(ctx, func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn, `DELETE FROM propagation_records WHERE target = ?`,
			&sqlitex.ExecOptions{Args: []any{target.String()}})
		if err != nil {
			return fmt.Errorf("bansync: deleting records for %s: %w", target, err)
		}
		removed = conn.Changes()
		return nil
	})
	return removed, err
}

// Times are stored as Unix nanoseconds; 0 is the zero time.
func encodeTime(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func decodeTime(nanos int64) time.Time {
	if nanos == 0 {
		return time.Time{}
	}
	return time.Unix(0, nanos).UTC()
}
