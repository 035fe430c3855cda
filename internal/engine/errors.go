// Copyright (C) 2025-2026 Kraklabs. All rights reserved.
// Use of this source code is governed by the AGPL-3.0
// license that can be found in the LICENSE file.

// Package engine implements the Memory Engine (4.E): the fact-planner,
// the public add/search/get/update/delete/list/history/set_state
// operations, and the per-memory-ID latch that gives concurrent callers
// per-memory linearizability.
package engine

import "fmt"

// Kind is one of the error taxonomy kinds in §7. It is a sentinel, not a
// type per kind, so the Remote Access Surface can map it to a JSON-RPC
// error code with a single switch.
type Kind string

const (
	KindInvalidScope           Kind = "InvalidScope"
	KindValidationError        Kind = "ValidationError"
	KindNotFound               Kind = "NotFound"
	KindInvalidStateTransition Kind = "InvalidStateTransition"
	KindEmbedError             Kind = "EmbedError"
	KindPlanError              Kind = "PlanError"
	KindStoreError             Kind = "StoreError"
	KindTimeout                Kind = "Timeout"
	KindOverloaded             Kind = "Overloaded"
	KindPartialFailure         Kind = "PartialFailure"
)

// Error is the Engine's structured error value (§7 propagation). Internal
// code wraps underlying causes with fmt.Errorf as usual; at the Engine's
// public boundary, failures are normalized into this type so callers can
// branch on Kind with errors.As instead of string matching.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

func newError(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}
