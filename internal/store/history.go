// Copyright (C) 2025-2026 Kraklabs. All rights reserved.
// Use of this source code is governed by the AGPL-3.0
// license that can be found in the LICENSE file.

package store

import (
	"context"
	"fmt"
	"sort"

	"github.com/kraklabs/mnemo/internal/cozo"
	"github.com/kraklabs/mnemo/internal/scope"
)

// History is the append-only log of memory state transitions (invariant 4).
// Generalizes the teacher's mie_invalidates edge table into a proper
// per-memory event log covering every Op, not just invalidation.
type History struct {
	backend cozo.Backend
}

// NewHistory wraps backend as the history log.
func NewHistory(backend cozo.Backend) *History {
	return &History{backend: backend}
}

// Append writes one HistoryEvent. Never call with an EventID already used;
// events are immutable once written.
func (h *History) Append(ctx context.Context, ev HistoryEvent) error {
	s := ev.Scope
	mutation := fmt.Sprintf(
		`?[event_id, memory_id, org_id, project_id, user_id, agent_id, run_id, app_id, op, prev_text, new_text, actor, timestamp] <- [['%s', '%s', '%s', '%s', '%s', '%s', '%s', '%s', '%s', '%s', '%s', '%s', %d]]
:put mnemo_history { event_id => memory_id, org_id, project_id, user_id, agent_id, run_id, app_id, op, prev_text, new_text, actor, timestamp }`,
		esc(ev.EventID), esc(ev.MemoryID),
		esc(s.OrgID), esc(s.ProjectID), esc(s.UserID), esc(s.AgentID), esc(s.RunID), esc(s.AppID),
		esc(string(ev.Op)), esc(ev.PrevText), esc(ev.NewText), esc(ev.Actor), ev.Timestamp,
	)
	if err := h.backend.Execute(ctx, mutation); err != nil {
		return fmt.Errorf("history: append %s: %w", ev.EventID, err)
	}
	return nil
}

// For returns every HistoryEvent recorded for memoryID in scope, ordered by
// timestamp ascending (replay order, invariant 4).
func (h *History) For(ctx context.Context, sc scope.Scope, memoryID string) ([]HistoryEvent, error) {
	script := fmt.Sprintf(
		`?[event_id, org_id, project_id, user_id, agent_id, run_id, app_id, op, prev_text, new_text, actor, timestamp] := *mnemo_history{event_id, memory_id, org_id, project_id, user_id, agent_id, run_id, app_id, op, prev_text, new_text, actor, timestamp}, memory_id = '%s'`,
		esc(memoryID),
	)
	res, err := h.backend.Query(ctx, script)
	if err != nil {
		return nil, fmt.Errorf("history: query for %s: %w", memoryID, err)
	}
	var out []HistoryEvent
	for _, row := range res.Rows {
		evScope := scope.Scope{
			OrgID:     toString(row[1]),
			ProjectID: toString(row[2]),
			UserID:    toString(row[3]),
			AgentID:   toString(row[4]),
			RunID:     toString(row[5]),
			AppID:     toString(row[6]),
		}
		if !scopeMatches(sc, evScope) {
			continue
		}
		out = append(out, HistoryEvent{
			MemoryID:  memoryID,
			Scope:     evScope,
			EventID:   toString(row[0]),
			Op:        Op(toString(row[7])),
			PrevText:  toString(row[8]),
			NewText:   toString(row[9]),
			Actor:     toString(row[10]),
			Timestamp: toInt64(row[11]),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out, nil
}
