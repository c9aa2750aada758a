// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package agent

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianQuery/services/queryagent/datatypes"
)

// sessionEntry holds the per-session state tracked by the manager.
type sessionEntry struct {
	history    *History
	table      string
	createdAt  time.Time
	lastActive time.Time
}

// SessionManager maps session keys to conversation histories and their
// bound source table. Sessions are created lazily on first use and
// reaped by the janitor after an idle TTL.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
type SessionManager struct {
	mu       sync.Mutex
	sessions map[string]*sessionEntry
	budget   int

	// now is injectable for janitor tests.
	now func() time.Time
}

// NewSessionManager creates a manager whose histories use the given
// token budget for context rendering.
func NewSessionManager(historyBudget int) *SessionManager {
	return &SessionManager{
		sessions: make(map[string]*sessionEntry),
		budget:   historyBudget,
		now:      time.Now,
	}
}

// GetOrCreate returns the history for the session key, creating the
// session bound to the given table if it does not exist. If the session
// exists but is bound to a different table, its history is cleared and
// the session is rebound.
func (m *SessionManager) GetOrCreate(key, table string) *History {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.sessions[key]
	if !ok {
		entry = &sessionEntry{
			history:   NewHistory(),
			table:     table,
			createdAt: m.now(),
		}
		m.sessions[key] = entry
	} else if table != "" && entry.table != table {
		slog.Info("Session rebound to new table, clearing history",
			"session", key, "old_table", entry.table, "new_table", table)
		entry.history.Clear()
		entry.table = table
	}
	entry.lastActive = m.now()
	return entry.history
}

// Get returns the history for an existing session.
func (m *SessionManager) Get(key string) (*History, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.sessions[key]
	if !ok {
		return nil, ErrSessionNotFound
	}
	entry.lastActive = m.now()
	return entry.history, nil
}

// Table returns the source table a session is bound to.
func (m *SessionManager) Table(key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.sessions[key]
	if !ok {
		return "", ErrSessionNotFound
	}
	return entry.table, nil
}

// Delete removes a session and its history.
func (m *SessionManager) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[key]; !ok {
		return ErrSessionNotFound
	}
	delete(m.sessions, key)
	return nil
}

// List returns a snapshot of all live sessions sorted by key.
func (m *SessionManager) List() []datatypes.SessionInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	infos := make([]datatypes.SessionInfo, 0, len(m.sessions))
	for key, entry := range m.sessions {
		infos = append(infos, datatypes.SessionInfo{
			SessionKey:   key,
			Table:        entry.table,
			TurnCount:    entry.history.Len(),
			CreatedAt:    entry.createdAt,
			LastActivity: entry.lastActive,
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].SessionKey < infos[j].SessionKey })
	return infos
}

// Len returns the number of live sessions.
func (m *SessionManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// reapIdle removes sessions idle longer than ttl and returns how many
// were removed.
func (m *SessionManager) reapIdle(ttl time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-ttl)
	removed := 0
	for key, entry := range m.sessions {
		if entry.lastActive.Before(cutoff) {
			delete(m.sessions, key)
			removed++
		}
	}
	return removed
}

// RunJanitor sweeps idle sessions at the given interval until the
// context is cancelled. Intended to run in its own goroutine.
func (m *SessionManager) RunJanitor(ctx context.Context, interval, ttl time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := m.reapIdle(ttl); removed > 0 {
				slog.Info("Reaped idle sessions", "count", removed, "ttl", ttl.String())
			}
		}
	}
}
