//go:build cozodb

// Copyright (C) 2025-2026 Kraklabs. All rights reserved.
// Use of this source code is governed by the AGPL-3.0
// license that can be found in the LICENSE file.

package store

import (
	"context"
	"testing"

	"github.com/kraklabs/mnemo/internal/scope"
)

func TestHistoryAppendAndFor(t *testing.T) {
	backend := newTestBackend(t)
	h := NewHistory(backend)
	sc := scope.Scope{UserID: "u1"}

	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}
	must(h.Append(context.Background(), HistoryEvent{EventID: "evt:1", MemoryID: "mem:1", Scope: sc, Op: OpAdd, NewText: "a", Actor: "engine", Timestamp: 100}))
	must(h.Append(context.Background(), HistoryEvent{EventID: "evt:2", MemoryID: "mem:1", Scope: sc, Op: OpUpdate, PrevText: "a", NewText: "b", Actor: "engine", Timestamp: 200}))
	must(h.Append(context.Background(), HistoryEvent{EventID: "evt:3", MemoryID: "mem:2", Scope: sc, Op: OpAdd, NewText: "other", Actor: "engine", Timestamp: 150}))

	events, err := h.For(context.Background(), sc, "mem:1")
	if err != nil {
		t.Fatalf("For() error = %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("For() returned %d events, want 2", len(events))
	}
	if events[0].EventID != "evt:1" || events[1].EventID != "evt:2" {
		t.Errorf("For() order = [%s, %s], want [evt:1, evt:2] (timestamp ascending)", events[0].EventID, events[1].EventID)
	}
}

func TestHistoryForScopesResults(t *testing.T) {
	backend := newTestBackend(t)
	h := NewHistory(backend)
	u1 := scope.Scope{UserID: "u1"}
	u2 := scope.Scope{UserID: "u2"}

	if err := h.Append(context.Background(), HistoryEvent{EventID: "evt:1", MemoryID: "mem:1", Scope: u1, Op: OpAdd, NewText: "a", Timestamp: 100}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	events, err := h.For(context.Background(), u2, "mem:1")
	if err != nil {
		t.Fatalf("For() error = %v", err)
	}
	if len(events) != 0 {
		t.Errorf("For() with the wrong caller scope returned %d events, want 0", len(events))
	}
}
