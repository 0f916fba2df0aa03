// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package welcome

import (
	"errors"
	"fmt"
	"os"

	"github.com/bureau-foundation/childserv/lib/codec"
)

const snapshotVersion = 1

type snapshot struct {
	Version int    `cbor:"version"`
	Rooms   []Room `cbor:"rooms"`
}

// save writes the tracked rooms to the snapshot file. Failures are
// logged: the in-memory state stays authoritative until the next
// successful write.
func (m *Manager) save() {
	if m.snapshotPath == "" {
		return
	}
	m.saveMu.Lock()
	defer m.saveMu.Unlock()

	state := snapshot{Version: snapshotVersion, Rooms: m.Rooms()}
	if err := codec.WriteFile(m.snapshotPath, state); err != nil {
		m.logger.Error("writing welcome snapshot failed", "path", m.snapshotPath, "error", err)
	}
}

// Restore loads the snapshot and re-installs every leave timer. Must
// be called before events are routed to the manager. A missing
// snapshot is not an error. Returns the number of rooms restored.
func (m *Manager) Restore() (int, error) {
	if m.snapshotPath == "" {
		return 0, nil
	}
	var state snapshot
	if err := codec.ReadFile(m.snapshotPath, &state); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("welcome: %w", err)
	}
	if state.Version != snapshotVersion {
		return 0, fmt.Errorf("welcome: snapshot %s has version %d, want %d", m.snapshotPath, state.Version, snapshotVersion)
	}

	restored := 0
	for _, saved := range state.Rooms {
		if saved.RoomID.IsZero() || saved.Member.IsZero() {
			m.logger.Warn("skipping incomplete welcome snapshot entry")
			continue
		}
		room := saved
		m.mu.Lock()
		_, duplicate := m.byMember[room.Member]
		if !duplicate {
			m.rooms[room.RoomID] = &room
			m.byMember[room.Member] = room.RoomID
		}
		m.mu.Unlock()
		if duplicate {
			m.logger.Warn("skipping duplicate welcome snapshot entry",
				"room_id", room.RoomID.String(),
				"user_id", room.Member.String(),
			)
			continue
		}
		m.scheduleLeave(room.RoomID, room.Member, room.LeaveAt)
		restored++
	}
	m.logger.Info("welcome rooms restored", "count", restored, "path", m.snapshotPath)
	return restored, nil
}
