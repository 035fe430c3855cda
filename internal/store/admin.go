// Copyright (C) 2025-2026 Kraklabs. All rights reserved.
// Use of this source code is governed by the AGPL-3.0
// license that can be found in the LICENSE file.

package store

import (
	"context"
	"fmt"

	"github.com/kraklabs/mnemo/internal/cozo"
	"github.com/kraklabs/mnemo/internal/scope"
)

// Dump is a whole-database, cross-tenant snapshot produced by DumpAll. It
// exists for the CLI's export/import commands, which operate above any
// single scope and therefore cannot go through the scope-gated VectorStore,
// GraphStore, or History methods.
type Dump struct {
	Memories      []Memory       `json:"memories"`
	Entities      []Entity       `json:"entities"`
	Relationships []Relationship `json:"relationships"`
	History       []HistoryEvent `json:"history"`
}

// DumpAll reads every row of every mnemo relation, ignoring scope. Embeddings
// are included so a restore does not need to re-embed.
func DumpAll(ctx context.Context, backend cozo.Backend) (*Dump, error) {
	d := &Dump{}

	memScript := `?[id, text, hash, org_id, project_id, user_id, agent_id, run_id, app_id, metadata, state, created_at, updated_at] := *mnemo_memory{id, text, hash, org_id, project_id, user_id, agent_id, run_id, app_id, metadata, state, created_at, updated_at}`
	res, err := backend.Query(ctx, memScript)
	if err != nil {
		return nil, fmt.Errorf("dump: memories: %w", err)
	}
	for _, row := range res.Rows {
		id := toString(row[0])
		m := rowToMemory(id, row[1:])
		embScript := fmt.Sprintf(`?[embedding] := *mnemo_memory_embedding{id, embedding}, id = '%s'`, esc(id))
		if embRes, err := backend.Query(ctx, embScript); err == nil && len(embRes.Rows) > 0 {
			m.Embedding = toFloat32Slice(embRes.Rows[0][0])
		}
		d.Memories = append(d.Memories, m)
	}

	// scopeByKey lets relationship rows (which only carry scope_key, not the
	// individual scope columns) recover a full scope.Scope: every entity
	// sharing a scope_key was upserted with the same scope by UpsertEntity.
	scopeByKey := map[string]scope.Scope{}

	entScript := `?[scope_key, name, type, org_id, project_id, user_id, agent_id, run_id, app_id, created_at, updated_at] := *mnemo_entity{scope_key, name, type, org_id, project_id, user_id, agent_id, run_id, app_id, created_at, updated_at}`
	res, err = backend.Query(ctx, entScript)
	if err != nil {
		return nil, fmt.Errorf("dump: entities: %w", err)
	}
	for _, row := range res.Rows {
		key := toString(row[0])
		sc := scope.Scope{
			OrgID:     toString(row[3]),
			ProjectID: toString(row[4]),
			UserID:    toString(row[5]),
			AgentID:   toString(row[6]),
			RunID:     toString(row[7]),
			AppID:     toString(row[8]),
		}
		scopeByKey[key] = sc
		d.Entities = append(d.Entities, Entity{
			Name:      toString(row[1]),
			Type:      toString(row[2]),
			Scope:     sc,
			CreatedAt: toInt64(row[9]),
			UpdatedAt: toInt64(row[10]),
		})
	}

	relScript := `?[scope_key, source, predicate, target, created_at] := *mnemo_relationship{scope_key, source, predicate, target, created_at}`
	res, err = backend.Query(ctx, relScript)
	if err != nil {
		return nil, fmt.Errorf("dump: relationships: %w", err)
	}
	for _, row := range res.Rows {
		key := toString(row[0])
		d.Relationships = append(d.Relationships, Relationship{
			Source:    toString(row[1]),
			Predicate: toString(row[2]),
			Target:    toString(row[3]),
			CreatedAt: toInt64(row[4]),
			Scope:     scopeByKey[key],
		})
	}

	histScript := `?[event_id, memory_id, org_id, project_id, user_id, agent_id, run_id, app_id, op, prev_text, new_text, actor, timestamp] := *mnemo_history{event_id, memory_id, org_id, project_id, user_id, agent_id, run_id, app_id, op, prev_text, new_text, actor, timestamp}`
	res, err = backend.Query(ctx, histScript)
	if err != nil {
		return nil, fmt.Errorf("dump: history: %w", err)
	}
	for _, row := range res.Rows {
		d.History = append(d.History, HistoryEvent{
			EventID:  toString(row[0]),
			MemoryID: toString(row[1]),
			Scope: scope.Scope{
				OrgID:     toString(row[2]),
				ProjectID: toString(row[3]),
				UserID:    toString(row[4]),
				AgentID:   toString(row[5]),
				RunID:     toString(row[6]),
				AppID:     toString(row[7]),
			},
			Op:        Op(toString(row[8])),
			PrevText:  toString(row[9]),
			NewText:   toString(row[10]),
			Actor:     toString(row[11]),
			Timestamp: toInt64(row[12]),
		})
	}

	return d, nil
}

// RestoreCounts reports how many rows of each kind RestoreAll wrote.
type RestoreCounts struct {
	Memories      int
	Entities      int
	Relationships int
	History       int
}

// RestoreAll writes a Dump back into backend, through the same VectorStore,
// GraphStore, and History helpers the running Engine uses, so restored rows
// are shaped identically to ones the Engine itself would have written. It is
// additive: rows with colliding identities are overwritten in place, since
// Insert, UpsertEntity, and UpsertRelationship are idempotent puts.
func RestoreAll(ctx context.Context, backend cozo.Backend, d *Dump) (RestoreCounts, error) {
	var counts RestoreCounts
	vector := NewVectorStore(backend)
	graph := NewGraphStore(backend)
	history := NewHistory(backend)

	for _, m := range d.Memories {
		if err := vector.Insert(ctx, m); err != nil {
			return counts, fmt.Errorf("restore: memory %s: %w", m.ID, err)
		}
		counts.Memories++
	}
	for _, e := range d.Entities {
		if _, err := graph.UpsertEntity(ctx, e.Scope, e.Name, e.Type); err != nil {
			return counts, fmt.Errorf("restore: entity %s: %w", e.Name, err)
		}
		counts.Entities++
	}
	for _, r := range d.Relationships {
		if _, err := graph.UpsertRelationship(ctx, r.Scope, r.Source, r.Predicate, r.Target); err != nil {
			return counts, fmt.Errorf("restore: relationship %s-%s->%s: %w", r.Source, r.Predicate, r.Target, err)
		}
		counts.Relationships++
	}
	for _, ev := range d.History {
		if err := history.Append(ctx, ev); err != nil {
			return counts, fmt.Errorf("restore: history %s: %w", ev.EventID, err)
		}
		counts.History++
	}
	return counts, nil
}
