// Copyright (C) 2025-2026 Kraklabs. All rights reserved.
// Use of this source code is governed by the AGPL-3.0
// license that can be found in the LICENSE file.

// Package store implements the Vector Store, Graph Store, and history log
// on top of an embedded CozoDB backend. Every operation takes a
// scope.Scope and honors it as an equality filter, per the tenant
// isolation invariant.
package store

import "github.com/kraklabs/mnemo/internal/scope"

// State is the lifecycle state of a Memory.
type State string

const (
	StateActive   State = "active"
	StatePaused   State = "paused"
	StateArchived State = "archived"
	StateDeleted  State = "deleted"
)

// transitions enumerates the permitted state machine edges (4.E.4).
var transitions = map[State]map[State]bool{
	StateActive:   {StatePaused: true, StateArchived: true, StateDeleted: true},
	StatePaused:   {StateActive: true, StateArchived: true, StateDeleted: true},
	StateArchived: {StateDeleted: true},
	StateDeleted:  {},
}

// CanTransition reports whether from -> to is a permitted state edge.
func CanTransition(from, to State) bool {
	if from == to {
		return true
	}
	return transitions[from][to]
}

// Memory is a durable, deduplicated textual fact with an embedding and
// metadata, scoped to a tenant.
type Memory struct {
	ID        string
	Text      string
	Embedding []float32
	Scope     scope.Scope
	Metadata  map[string]any
	Hash      string
	CreatedAt int64
	UpdatedAt int64
	State     State
}

// Op is a fact-planner operation kind.
type Op string

const (
	OpAdd    Op = "ADD"
	OpUpdate Op = "UPDATE"
	OpDelete Op = "DELETE"
	OpNoop   Op = "NOOP"
)

// HistoryEvent is an append-only record of one state transition of one
// memory. Never mutated after write.
type HistoryEvent struct {
	EventID   string
	MemoryID  string
	Scope     scope.Scope
	Op        Op
	PrevText  string
	NewText   string
	Actor     string
	Timestamp int64
}

// Entity is a graph node. Identity is (scope, name).
type Entity struct {
	Name      string
	Type      string
	Scope     scope.Scope
	CreatedAt int64
	UpdatedAt int64
}

// Relationship is a typed directed graph edge. Identity is
// (scope, source, predicate, target).
type Relationship struct {
	Source    string
	Predicate string
	Target    string
	Scope     scope.Scope
	CreatedAt int64
}

// SearchHit pairs a Memory with its similarity score.
type SearchHit struct {
	Memory Memory
	Score  float64
}

// Filters narrows a search/list call. Metadata filters are exact-match on
// scalar fields and set-membership on list fields.
type Filters struct {
	Metadata      map[string]any
	IncludeState  bool // include non-active memories
	ExplicitState State
}

// Paging bounds a list call. Page is 1-based; a Size of 0 disables paging.
type Paging struct {
	Page int
	Size int
}
