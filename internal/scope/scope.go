// Copyright (C) 2025-2026 Kraklabs. All rights reserved.
// Use of this source code is governed by the AGPL-3.0
// license that can be found in the LICENSE file.

// Package scope normalizes tenant identifiers and builds the filter
// predicate every store operation must honor.
package scope

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
)

var fieldPattern = regexp.MustCompile(`^[A-Za-z0-9_.:/-]+$`)

// Scope is the immutable tuple of tenant identifiers that namespaces all
// data and queries. The zero value is the empty scope.
type Scope struct {
	OrgID     string
	ProjectID string
	UserID    string
	AgentID   string
	RunID     string
	AppID     string
}

// Field is an enumerable view of a Scope's six identifying columns, used by
// stores to build equality filters without reflecting on the struct.
type Field struct {
	Name  string
	Value string
}

// Fields returns the non-empty identifying fields of s in a stable order.
func (s Scope) Fields() []Field {
	var fields []Field
	for _, f := range []Field{
		{"org_id", s.OrgID},
		{"project_id", s.ProjectID},
		{"user_id", s.UserID},
		{"agent_id", s.AgentID},
		{"run_id", s.RunID},
		{"app_id", s.AppID},
	} {
		if f.Value != "" {
			fields = append(fields, f)
		}
	}
	return fields
}

// IsEmpty reports whether no identifying field is set.
func (s Scope) IsEmpty() bool {
	return len(s.Fields()) == 0
}

// Equal reports whether s and other denote the same tenant.
func (s Scope) Equal(other Scope) bool {
	return s == other
}

// CollectionKey returns a deterministic string derived from s, used to
// namespace physical storage when a deployment chooses per-tenant
// collection isolation over a shared collection with scope columns.
func (s Scope) CollectionKey() string {
	var sb strings.Builder
	for _, f := range s.Fields() {
		sb.WriteString(f.Name)
		sb.WriteByte('=')
		sb.WriteString(f.Value)
		sb.WriteByte(';')
	}
	sum := sha256.Sum256([]byte(sb.String()))
	return hex.EncodeToString(sum[:8])
}

// Resolver merges a request-level scope with a deployment default and
// validates the result.
type Resolver struct {
	Default Scope
}

// NewResolver creates a Resolver with the given deployment-level default
// scope (applied to any field the request leaves unset). The error return
// is kept for interface stability (validating a default scope eagerly is
// a plausible future addition); construction cannot currently fail.
func NewResolver(def Scope) (*Resolver, error) {
	return &Resolver{Default: def}, nil
}

// ErrInvalidScope is returned by Resolve when the merged scope fails
// validation.
type ErrInvalidScope struct {
	Reason string
}

func (e *ErrInvalidScope) Error() string { return "invalid scope: " + e.Reason }

// Resolve merges req over the deployment default, per field, and validates
// the result. If mutating is true, at least one of user_id/agent_id/run_id
// must be present.
func (r *Resolver) Resolve(req Scope, mutating bool) (Scope, error) {
	merged := Scope{
		OrgID:     firstNonEmpty(req.OrgID, r.Default.OrgID),
		ProjectID: firstNonEmpty(req.ProjectID, r.Default.ProjectID),
		UserID:    firstNonEmpty(req.UserID, r.Default.UserID),
		AgentID:   firstNonEmpty(req.AgentID, r.Default.AgentID),
		RunID:     firstNonEmpty(req.RunID, r.Default.RunID),
		AppID:     firstNonEmpty(req.AppID, r.Default.AppID),
	}

	for _, f := range merged.Fields() {
		if !fieldPattern.MatchString(f.Value) {
			return Scope{}, &ErrInvalidScope{Reason: fmt.Sprintf("field %s contains invalid characters", f.Name)}
		}
	}

	if mutating && merged.UserID == "" && merged.AgentID == "" && merged.RunID == "" {
		return Scope{}, &ErrInvalidScope{Reason: "mutating calls require at least one of user_id, agent_id, run_id"}
	}
	if !mutating && merged.IsEmpty() {
		return Scope{}, &ErrInvalidScope{Reason: "queries require at least one scope identifier"}
	}

	return merged, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
