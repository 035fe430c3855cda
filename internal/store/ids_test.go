// Copyright (C) 2025-2026 Kraklabs. All rights reserved.
// Use of this source code is governed by the AGPL-3.0
// license that can be found in the LICENSE file.

package store

import "testing"

func TestContentHashIgnoresCaseAndWhitespace(t *testing.T) {
	a := ContentHash("User  lives in   Berlin")
	b := ContentHash("user lives in berlin")
	if a != b {
		t.Errorf("ContentHash() should be case/whitespace insensitive: %q != %q", a, b)
	}
}

func TestContentHashDistinguishesContent(t *testing.T) {
	a := ContentHash("User lives in Berlin")
	b := ContentHash("User lives in Munich")
	if a == b {
		t.Error("ContentHash() should differ for different content")
	}
}

func TestMemoryIDDeterministic(t *testing.T) {
	a := MemoryID("scope-key", "User lives in Berlin")
	b := MemoryID("scope-key", "user lives in berlin")
	if a != b {
		t.Errorf("MemoryID() should be deterministic for equivalent content: %q != %q", a, b)
	}
}

func TestMemoryIDScopedSeparately(t *testing.T) {
	a := MemoryID("scope-a", "User lives in Berlin")
	b := MemoryID("scope-b", "User lives in Berlin")
	if a == b {
		t.Error("MemoryID() should differ across scopes for identical content")
	}
}

func TestNormalizeEntityName(t *testing.T) {
	cases := map[string]string{
		"  Kraklabs   Inc ": "kraklabs_inc",
		"ACME":              "acme",
		"works at":          "works_at",
	}
	for in, want := range cases {
		if got := NormalizeEntityName(in); got != want {
			t.Errorf("NormalizeEntityName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNewHistoryEventIDUnique(t *testing.T) {
	a := NewHistoryEventID()
	b := NewHistoryEventID()
	if a == b {
		t.Error("NewHistoryEventID() should not repeat")
	}
}

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to State
		want     bool
	}{
		{StateActive, StatePaused, true},
		{StateActive, StateArchived, true},
		{StateActive, StateDeleted, true},
		{StatePaused, StateActive, true},
		{StateArchived, StateActive, false},
		{StateDeleted, StateActive, false},
		{StateDeleted, StateDeleted, true},
	}
	for _, c := range cases {
		if got := CanTransition(c.from, c.to); got != c.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", c.from, c.to, got, c.want)
		}
	}
}
