// Copyright (C) 2025-2026 Kraklabs. All rights reserved.
// Use of this source code is governed by the AGPL-3.0
// license that can be found in the LICENSE file.

package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/kraklabs/mnemo/internal/cozo"
	"github.com/kraklabs/mnemo/internal/scope"
)

// GraphStore is the durable store of entities and typed directed
// relationships scoped by tenant (4.D).
type GraphStore struct {
	backend cozo.Backend
}

// NewGraphStore wraps backend as a Graph Store.
func NewGraphStore(backend cozo.Backend) *GraphStore {
	return &GraphStore{backend: backend}
}

// UpsertEntity creates or returns the entity identified by (scope, name),
// merged case-insensitively with whitespace collapsed.
func (g *GraphStore) UpsertEntity(ctx context.Context, sc scope.Scope, name, typ string) (Entity, error) {
	normalized := NormalizeEntityName(name)
	key := sc.CollectionKey()
	now := time.Now().Unix()

	createdAt := now
	existing, err := g.getEntity(ctx, key, normalized)
	if err == nil {
		createdAt = existing.CreatedAt
	}

	mutation := fmt.Sprintf(
		`?[scope_key, name, type, org_id, project_id, user_id, agent_id, run_id, app_id, created_at, updated_at] <- [['%s', '%s', '%s', '%s', '%s', '%s', '%s', '%s', '%s', %d, %d]]
:put mnemo_entity { scope_key, name => type, org_id, project_id, user_id, agent_id, run_id, app_id, created_at, updated_at }`,
		esc(key), esc(normalized), esc(typ),
		esc(sc.OrgID), esc(sc.ProjectID), esc(sc.UserID), esc(sc.AgentID), esc(sc.RunID), esc(sc.AppID),
		createdAt, now,
	)
	if err := g.backend.Execute(ctx, mutation); err != nil {
		return Entity{}, fmt.Errorf("graph store: upsert entity %q: %w", name, err)
	}
	return Entity{Name: normalized, Type: typ, Scope: sc, CreatedAt: createdAt, UpdatedAt: now}, nil
}

func (g *GraphStore) getEntity(ctx context.Context, scopeKey, name string) (Entity, error) {
	script := fmt.Sprintf(
		`?[type, created_at, updated_at] := *mnemo_entity{scope_key, name, type, created_at, updated_at}, scope_key = '%s', name = '%s'`,
		esc(scopeKey), esc(name),
	)
	res, err := g.backend.Query(ctx, script)
	if err != nil {
		return Entity{}, err
	}
	if len(res.Rows) == 0 {
		return Entity{}, ErrNotFound{ID: name}
	}
	row := res.Rows[0]
	return Entity{
		Name:      name,
		Type:      toString(row[0]),
		CreatedAt: toInt64(row[1]),
		UpdatedAt: toInt64(row[2]),
	}, nil
}

// UpsertRelationship creates both endpoints if missing and the edge if
// missing. Idempotent: calling it twice with identical arguments creates
// exactly one edge.
func (g *GraphStore) UpsertRelationship(ctx context.Context, sc scope.Scope, sourceName, predicate, targetName string) (Relationship, error) {
	key := sc.CollectionKey()
	for _, name := range []string{sourceName, targetName} {
		if _, err := g.getEntity(ctx, key, NormalizeEntityName(name)); err == nil {
			continue
		}
		if _, err := g.UpsertEntity(ctx, sc, name, "unknown"); err != nil {
			return Relationship{}, err
		}
	}

	source := NormalizeEntityName(sourceName)
	target := NormalizeEntityName(targetName)
	pred := NormalizeEntityName(predicate)
	now := time.Now().Unix()

	mutation := fmt.Sprintf(
		`?[scope_key, source, predicate, target, created_at] <- [['%s', '%s', '%s', '%s', %d]]
:put mnemo_relationship { scope_key, source, predicate, target => created_at }`,
		esc(key), esc(source), esc(pred), esc(target), now,
	)
	if err := g.backend.Execute(ctx, mutation); err != nil {
		return Relationship{}, fmt.Errorf("graph store: upsert relationship %s-%s->%s: %w", source, pred, target, err)
	}
	return Relationship{Source: source, Predicate: pred, Target: target, Scope: sc, CreatedAt: now}, nil
}

// DeleteEntity removes an entity and cascades to every relationship
// touching it (invariant 5).
func (g *GraphStore) DeleteEntity(ctx context.Context, sc scope.Scope, name string) error {
	key := sc.CollectionKey()
	normalized := NormalizeEntityName(name)

	mutation := fmt.Sprintf(`?[scope_key, name] <- [['%s', '%s']] :rm mnemo_entity { scope_key, name }`, esc(key), esc(normalized))
	if err := g.backend.Execute(ctx, mutation); err != nil {
		return fmt.Errorf("graph store: delete entity %q: %w", name, err)
	}

	for _, col := range []string{"source", "target"} {
		script := fmt.Sprintf(
			`?[scope_key, source, predicate, target] := *mnemo_relationship{scope_key, source, predicate, target}, scope_key = '%s', %s = '%s'
:rm mnemo_relationship { scope_key, source, predicate, target }`,
			esc(key), col, esc(normalized),
		)
		if err := g.backend.Execute(ctx, script); err != nil {
			return fmt.Errorf("graph store: cascade delete edges for %q: %w", name, err)
		}
	}
	return nil
}

// DeleteRelationship removes a specific edge.
func (g *GraphStore) DeleteRelationship(ctx context.Context, sc scope.Scope, source, predicate, target string) error {
	key := sc.CollectionKey()
	mutation := fmt.Sprintf(
		`?[scope_key, source, predicate, target] <- [['%s', '%s', '%s', '%s']] :rm mnemo_relationship { scope_key, source, predicate, target }`,
		esc(key), esc(NormalizeEntityName(source)), esc(NormalizeEntityName(predicate)), esc(NormalizeEntityName(target)),
	)
	if err := g.backend.Execute(ctx, mutation); err != nil {
		return fmt.Errorf("graph store: delete relationship: %w", err)
	}
	return nil
}

// Neighborhood returns the entities and relationships reachable from seeds
// within depth hops (bounded to 2 to prevent runaway traversals).
func (g *GraphStore) Neighborhood(ctx context.Context, sc scope.Scope, seeds []string, depth int) ([]Entity, []Relationship, error) {
	if depth > 2 {
		depth = 2
	}
	if depth < 1 {
		depth = 1
	}
	key := sc.CollectionKey()

	frontier := make(map[string]bool)
	for _, s := range seeds {
		frontier[NormalizeEntityName(s)] = true
	}
	visitedEntities := map[string]bool{}
	var relationships []Relationship

	for i := 0; i < depth; i++ {
		if len(frontier) == 0 {
			break
		}
		next := map[string]bool{}
		for name := range frontier {
			if visitedEntities[name] {
				continue
			}
			visitedEntities[name] = true
			script := fmt.Sprintf(
				`?[source, predicate, target, created_at] := *mnemo_relationship{scope_key, source, predicate, target, created_at}, scope_key = '%s', (source = '%s' or target = '%s')`,
				esc(key), esc(name), esc(name),
			)
			res, err := g.backend.Query(ctx, script)
			if err != nil {
				return nil, nil, fmt.Errorf("graph store: neighborhood query: %w", err)
			}
			for _, row := range res.Rows {
				rel := Relationship{
					Source:    toString(row[0]),
					Predicate: toString(row[1]),
					Target:    toString(row[2]),
					Scope:     sc,
					CreatedAt: toInt64(row[3]),
				}
				relationships = append(relationships, rel)
				next[rel.Source] = true
				next[rel.Target] = true
			}
		}
		frontier = next
	}

	var entities []Entity
	for name := range visitedEntities {
		if e, err := g.getEntity(ctx, key, name); err == nil {
			entities = append(entities, e)
		}
	}
	sort.Slice(entities, func(i, j int) bool { return entities[i].Name < entities[j].Name })
	return entities, relationships, nil
}

// SearchByText returns entities whose name matches text by substring
// containment, tie-broken by recency (4.D: lexical match; embedding
// similarity over entity names is left to a future backfill since entities
// have no dedicated embedding table in this schema).
func (g *GraphStore) SearchByText(ctx context.Context, sc scope.Scope, text string, k int) ([]Entity, error) {
	key := sc.CollectionKey()
	needle := strings.ToLower(strings.TrimSpace(text))
	script := fmt.Sprintf(
		`?[name, type, created_at, updated_at] := *mnemo_entity{scope_key, name, type, created_at, updated_at}, scope_key = '%s', str_includes(name, '%s')`,
		esc(key), esc(NormalizeEntityName(needle)),
	)
	res, err := g.backend.Query(ctx, script)
	if err != nil {
		return nil, fmt.Errorf("graph store: search by text: %w", err)
	}
	var out []Entity
	for _, row := range res.Rows {
		out = append(out, Entity{
			Name:      toString(row[0]),
			Type:      toString(row[1]),
			Scope:     sc,
			CreatedAt: toInt64(row[2]),
			UpdatedAt: toInt64(row[3]),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt > out[j].UpdatedAt })
	if k > 0 && len(out) > k {
		out = out[:k]
	}
	return out, nil
}
