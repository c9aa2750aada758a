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
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/AleutianAI/AleutianQuery/services/queryagent/datatypes"
)

func TestSessionManager_Lifecycle(t *testing.T) {
	m := NewSessionManager(3000)

	h := m.GetOrCreate("alice", "sales")
	h.Append(makeTurn(1, 0))

	again := m.GetOrCreate("alice", "sales")
	if again.Len() != 1 {
		t.Errorf("expected same history on repeat access, got %d turns", again.Len())
	}

	if _, err := m.Get("bob"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}

	table, err := m.Table("alice")
	if err != nil || table != "sales" {
		t.Errorf("Table = %q, %v", table, err)
	}

	infos := m.List()
	if len(infos) != 1 || infos[0].SessionKey != "alice" || infos[0].TurnCount != 1 {
		t.Errorf("unexpected session listing: %+v", infos)
	}

	if err := m.Delete("alice"); err != nil {
		t.Errorf("delete failed: %v", err)
	}
	if err := m.Delete("alice"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("double delete should report not found, got %v", err)
	}
}

func TestSessionManager_RebindClearsHistory(t *testing.T) {
	m := NewSessionManager(3000)

	h := m.GetOrCreate("alice", "sales")
	h.Append(makeTurn(1, 0))

	rebound := m.GetOrCreate("alice", "inventory")
	if rebound.Len() != 0 {
		t.Errorf("rebinding to a new table must clear history, got %d turns", rebound.Len())
	}
	if table, _ := m.Table("alice"); table != "inventory" {
		t.Errorf("table not rebound, got %q", table)
	}
}

func TestSessionManager_ReapIdle(t *testing.T) {
	m := NewSessionManager(3000)

	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	m.GetOrCreate("old", "sales")

	now = now.Add(10 * time.Minute)
	m.GetOrCreate("fresh", "sales")

	now = now.Add(25 * time.Minute)
	removed := m.reapIdle(30 * time.Minute)

	if removed != 1 {
		t.Fatalf("expected 1 reaped session, got %d", removed)
	}
	if _, err := m.Get("old"); !errors.Is(err, ErrSessionNotFound) {
		t.Error("idle session should have been reaped")
	}
	if _, err := m.Get("fresh"); err != nil {
		t.Errorf("active session should survive: %v", err)
	}
}

func TestSessionManager_Concurrency(t *testing.T) {
	m := NewSessionManager(3000)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			h := m.GetOrCreate("shared", "sales")
			h.Append(makeTurn(i, 0))
		}(i)
		go func() {
			defer wg.Done()
			_ = m.List()
		}()
	}
	wg.Wait()

	h, err := m.Get("shared")
	if err != nil {
		t.Fatalf("session lost: %v", err)
	}
	if h.Len() != 50 {
		t.Errorf("expected 50 turns, got %d", h.Len())
	}
}

func TestSchemaCache_RoundTrip(t *testing.T) {
	cache, err := OpenSchemaCache("", time.Minute)
	if err != nil {
		t.Fatalf("failed to open in-memory cache: %v", err)
	}
	defer cache.Close()

	ctx := context.Background()
	dsn := "file:data.db"

	if hit, err := cache.Get(ctx, dsn, "sales"); err != nil || hit != nil {
		t.Fatalf("expected clean miss, got %v, %v", hit, err)
	}

	want := testSchema()
	if err := cache.Put(ctx, dsn, "sales", want); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	got, err := cache.Get(ctx, dsn, "sales")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got == nil || got.Table != "sales" || len(got.Columns) != 2 {
		t.Errorf("round trip mismatch: %+v", got)
	}

	// Different table, same DSN, is a separate key.
	if hit, err := cache.Get(ctx, dsn, "inventory"); err != nil || hit != nil {
		t.Errorf("expected miss for other table, got %v, %v", hit, err)
	}

	if err := cache.Invalidate(ctx, dsn, "sales"); err != nil {
		t.Fatalf("invalidate failed: %v", err)
	}
	if hit, err := cache.Get(ctx, dsn, "sales"); err != nil || hit != nil {
		t.Errorf("expected miss after invalidate, got %v, %v", hit, err)
	}
}

func TestSchemaCache_ContextCancelled(t *testing.T) {
	cache, err := OpenSchemaCache("", time.Minute)
	if err != nil {
		t.Fatalf("failed to open in-memory cache: %v", err)
	}
	defer cache.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := cache.Get(ctx, "dsn", "t"); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context error, got %v", err)
	}
}

func TestAuditLog_AppendsJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	log, err := NewAuditLog(path)
	if err != nil {
		t.Fatalf("failed to open audit log: %v", err)
	}

	records := []AuditRecord{
		{RequestID: "r1", SessionKey: "alice", Question: "q1", ExecutedQuery: "SELECT 1 LIMIT 500", RowCount: 1, AttemptsElapsed: 1},
		{RequestID: "r2", SessionKey: "bob", Question: "q2", ExecutedQuery: "SELECT 2 LIMIT 500", RowCount: 3, AttemptsElapsed: 2},
	}
	for _, r := range records {
		if err := log.Record(r); err != nil {
			t.Fatalf("record failed: %v", err)
		}
	}
	if err := log.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("failed to reopen audit file: %v", err)
	}
	defer f.Close()

	var got []AuditRecord
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var r AuditRecord
		if err := json.Unmarshal(scanner.Bytes(), &r); err != nil {
			t.Fatalf("line is not valid JSON: %v", err)
		}
		got = append(got, r)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(got))
	}
	if got[0].Sequence != 1 || got[1].Sequence != 2 {
		t.Errorf("sequence numbers wrong: %d, %d", got[0].Sequence, got[1].Sequence)
	}
	if got[1].RequestID != "r2" || got[1].RowCount != 3 {
		t.Errorf("second record mismatch: %+v", got[1])
	}
	if got[0].Timestamp.IsZero() {
		t.Error("timestamp should be filled when zero")
	}
}

func TestPreviewMarkdown_Truncation(t *testing.T) {
	table := &datatypes.Table{
		Columns: []string{"n"},
		Rows:    [][]string{{"1"}, {"2"}, {"3"}, {"4"}, {"5"}, {"6"}, {"7"}},
	}
	preview := previewMarkdown(table, 5)
	if !strings.Contains(preview, "(2 more rows)") {
		t.Errorf("expected truncation note, got:\n%s", preview)
	}

	small := &datatypes.Table{Columns: []string{"n"}, Rows: [][]string{{"1"}}}
	if strings.Contains(previewMarkdown(small, 5), "more rows") {
		t.Error("small tables should not be truncated")
	}
}
