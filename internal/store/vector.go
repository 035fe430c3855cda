// Copyright (C) 2025-2026 Kraklabs. All rights reserved.
// Use of this source code is governed by the AGPL-3.0
// license that can be found in the LICENSE file.

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/kraklabs/mnemo/internal/cozo"
	"github.com/kraklabs/mnemo/internal/scope"
)

// VectorStore is the durable associative store mapping memory_id ->
// {text, embedding, metadata} (4.C).
type VectorStore struct {
	backend cozo.Backend
}

// NewVectorStore wraps backend as a Vector Store.
func NewVectorStore(backend cozo.Backend) *VectorStore {
	return &VectorStore{backend: backend}
}

// Insert stores a new memory. Idempotent on memory.ID: inserting the same
// ID twice overwrites in place, which is what lets the fact-planner retry
// an ADD safely.
func (v *VectorStore) Insert(ctx context.Context, m Memory) error {
	meta, err := json.Marshal(m.Metadata)
	if err != nil {
		return fmt.Errorf("vector store: marshal metadata: %w", err)
	}
	s := m.Scope
	mutation := fmt.Sprintf(
		`?[id, text, hash, org_id, project_id, user_id, agent_id, run_id, app_id, metadata, state, created_at, updated_at] <- [['%s', '%s', '%s', '%s', '%s', '%s', '%s', '%s', '%s', %s, '%s', %d, %d]]
:put mnemo_memory { id => text, hash, org_id, project_id, user_id, agent_id, run_id, app_id, metadata, state, created_at, updated_at }`,
		esc(m.ID), esc(m.Text), esc(m.Hash),
		esc(s.OrgID), esc(s.ProjectID), esc(s.UserID), esc(s.AgentID), esc(s.RunID), esc(s.AppID),
		string(meta), esc(string(m.State)), m.CreatedAt, m.UpdatedAt,
	)
	if err := v.backend.Execute(ctx, mutation); err != nil {
		return fmt.Errorf("vector store: insert %s: %w", m.ID, err)
	}
	if len(m.Embedding) > 0 {
		if err := v.putEmbedding(ctx, m.ID, m.Embedding); err != nil {
			return err
		}
	}
	return nil
}

func (v *VectorStore) putEmbedding(ctx context.Context, id string, embedding []float32) error {
	vec := fmt.Sprintf(
		`?[id, embedding] <- [['%s', vec([%s])]] :put mnemo_memory_embedding { id => embedding }`,
		esc(id), cozo.FormatVector(embedding),
	)
	if err := v.backend.Execute(ctx, vec); err != nil {
		return fmt.Errorf("vector store: store embedding for %s: %w", id, err)
	}
	return nil
}

// Update applies a partial update to an existing memory. A non-empty text
// recomputes hash and (if a new embedding is supplied) the stored vector
// atomically with the text update, from the caller's perspective
// (invariant 2).
type UpdateFields struct {
	Text      *string
	Embedding []float32
	Metadata  map[string]any
}

func (v *VectorStore) Update(ctx context.Context, id string, fields UpdateFields) error {
	existing, err := v.Get(ctx, id)
	if err != nil {
		return err
	}

	text := existing.Text
	hash := existing.Hash
	if fields.Text != nil {
		text = *fields.Text
		hash = ContentHash(text)
	}
	meta := existing.Metadata
	if fields.Metadata != nil {
		meta = fields.Metadata
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("vector store: marshal metadata: %w", err)
	}

	now := time.Now().Unix()
	s := existing.Scope
	mutation := fmt.Sprintf(
		`?[id, text, hash, org_id, project_id, user_id, agent_id, run_id, app_id, metadata, state, created_at, updated_at] <- [['%s', '%s', '%s', '%s', '%s', '%s', '%s', '%s', '%s', %s, '%s', %d, %d]]
:put mnemo_memory { id => text, hash, org_id, project_id, user_id, agent_id, run_id, app_id, metadata, state, created_at, updated_at }`,
		esc(id), esc(text), esc(hash),
		esc(s.OrgID), esc(s.ProjectID), esc(s.UserID), esc(s.AgentID), esc(s.RunID), esc(s.AppID),
		string(metaJSON), esc(string(existing.State)), existing.CreatedAt, now,
	)
	if err := v.backend.Execute(ctx, mutation); err != nil {
		return fmt.Errorf("vector store: update %s: %w", id, err)
	}
	if fields.Embedding != nil {
		if err := v.putEmbedding(ctx, id, fields.Embedding); err != nil {
			return err
		}
	}
	return nil
}

// SetState transitions a memory's lifecycle state, validated against the
// state machine (4.E.4) by the caller before this is invoked.
func (v *VectorStore) SetState(ctx context.Context, id string, state State) error {
	existing, err := v.Get(ctx, id)
	if err != nil {
		return err
	}
	now := time.Now().Unix()
	meta, err := json.Marshal(existing.Metadata)
	if err != nil {
		return fmt.Errorf("vector store: marshal metadata: %w", err)
	}
	s := existing.Scope
	mutation := fmt.Sprintf(
		`?[id, text, hash, org_id, project_id, user_id, agent_id, run_id, app_id, metadata, state, created_at, updated_at] <- [['%s', '%s', '%s', '%s', '%s', '%s', '%s', '%s', '%s', %s, '%s', %d, %d]]
:put mnemo_memory { id => text, hash, org_id, project_id, user_id, agent_id, run_id, app_id, metadata, state, created_at, updated_at }`,
		esc(id), esc(existing.Text), esc(existing.Hash),
		esc(s.OrgID), esc(s.ProjectID), esc(s.UserID), esc(s.AgentID), esc(s.RunID), esc(s.AppID),
		string(meta), esc(string(state)), existing.CreatedAt, now,
	)
	if err := v.backend.Execute(ctx, mutation); err != nil {
		return fmt.Errorf("vector store: set state %s: %w", id, err)
	}
	return nil
}

// Delete soft-deletes a memory (invariant 6): it is marked deleted rather
// than removed, so its history remains retrievable.
func (v *VectorStore) Delete(ctx context.Context, id string) error {
	return v.SetState(ctx, id, StateDeleted)
}

// Get fetches a single memory by ID, scope-unchecked; callers enforce scope
// after the fact (needed so the Engine can distinguish NotFound from
// InvalidScope per the 4.E.2 step 7 tie-break).
func (v *VectorStore) Get(ctx context.Context, id string) (Memory, error) {
	script := fmt.Sprintf(
		`?[text, hash, org_id, project_id, user_id, agent_id, run_id, app_id, metadata, state, created_at, updated_at] := *mnemo_memory{id, text, hash, org_id, project_id, user_id, agent_id, run_id, app_id, metadata, state, created_at, updated_at}, id = '%s'`,
		esc(id),
	)
	res, err := v.backend.Query(ctx, script)
	if err != nil {
		return Memory{}, fmt.Errorf("vector store: get %s: %w", id, err)
	}
	if len(res.Rows) == 0 {
		return Memory{}, ErrNotFound{ID: id}
	}
	m := rowToMemory(id, res.Rows[0])

	embScript := fmt.Sprintf(`?[embedding] := *mnemo_memory_embedding{id, embedding}, id = '%s'`, esc(id))
	if embRes, err := v.backend.Query(ctx, embScript); err == nil && len(embRes.Rows) > 0 {
		m.Embedding = toFloat32Slice(embRes.Rows[0][0])
	}
	return m, nil
}

// Search returns the k memories in scope most similar to queryVector,
// ordered by descending cosine similarity.
func (v *VectorStore) Search(ctx context.Context, sc scope.Scope, queryVector []float32, k int, filters Filters) ([]SearchHit, error) {
	if k == 0 {
		return nil, nil
	}
	script := fmt.Sprintf(`
?[id, text, hash, org_id, project_id, user_id, agent_id, run_id, app_id, metadata, state, created_at, updated_at, distance] :=
    ~mnemo_memory_embedding:idx{ id | query: q, k: %d, ef: 200, bind_distance: distance },
    q = vec([%s]),
    *mnemo_memory{id, text, hash, org_id, project_id, user_id, agent_id, run_id, app_id, metadata, state, created_at, updated_at}
:order distance
:limit %d`, k*4, cozo.FormatVector(queryVector), k*4)

	res, err := v.backend.Query(ctx, script)
	if err != nil {
		return nil, fmt.Errorf("vector store: search: %w", err)
	}

	var hits []SearchHit
	for _, row := range res.Rows {
		id := toString(row[0])
		m := rowToMemory(id, row[1:13])
		if !scopeMatches(sc, m.Scope) {
			continue
		}
		if !filters.IncludeState && m.State != StateActive && m.State != filters.ExplicitState {
			continue
		}
		if !matchesMetadata(m.Metadata, filters.Metadata) {
			continue
		}
		distance := toFloat64(row[13])
		hits = append(hits, SearchHit{Memory: m, Score: cosineSimilarityFromDistance(distance)})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		if hits[i].Memory.CreatedAt != hits[j].Memory.CreatedAt {
			return hits[i].Memory.CreatedAt > hits[j].Memory.CreatedAt
		}
		return hits[i].Memory.ID < hits[j].Memory.ID
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// List returns memories in scope matching filters, ordered by
// (created_at desc, id asc).
func (v *VectorStore) List(ctx context.Context, sc scope.Scope, filters Filters, paging Paging) ([]Memory, error) {
	script := `?[id, text, hash, org_id, project_id, user_id, agent_id, run_id, app_id, metadata, state, created_at, updated_at] := *mnemo_memory{id, text, hash, org_id, project_id, user_id, agent_id, run_id, app_id, metadata, state, created_at, updated_at}`
	res, err := v.backend.Query(ctx, script)
	if err != nil {
		return nil, fmt.Errorf("vector store: list: %w", err)
	}

	out := []Memory{}
	for _, row := range res.Rows {
		id := toString(row[0])
		m := rowToMemory(id, row[1:])
		if !scopeMatches(sc, m.Scope) {
			continue
		}
		if !filters.IncludeState && m.State != StateActive {
			continue
		}
		if !matchesMetadata(m.Metadata, filters.Metadata) {
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt > out[j].CreatedAt
		}
		return out[i].ID < out[j].ID
	})

	if paging.Size > 0 {
		page := paging.Page
		if page < 1 {
			page = 1
		}
		start := (page - 1) * paging.Size
		if start >= len(out) {
			return []Memory{}, nil
		}
		end := start + paging.Size
		if end > len(out) {
			end = len(out)
		}
		out = out[start:end]
	}
	return out, nil
}

func scopeMatches(caller, owner scope.Scope) bool {
	return caller.Equal(owner)
}

func matchesMetadata(stored map[string]any, want map[string]any) bool {
	for k, v := range want {
		sv, ok := stored[k]
		if !ok {
			return false
		}
		if list, ok := sv.([]any); ok {
			if !containsValue(list, v) {
				return false
			}
			continue
		}
		if fmt.Sprintf("%v", sv) != fmt.Sprintf("%v", v) {
			return false
		}
	}
	return true
}

func containsValue(list []any, v any) bool {
	for _, item := range list {
		if fmt.Sprintf("%v", item) == fmt.Sprintf("%v", v) {
			return true
		}
	}
	return false
}

// cosineSimilarityFromDistance converts CozoDB's HNSW cosine distance
// (1 - cosine similarity) into a similarity score in [-1, 1].
func cosineSimilarityFromDistance(distance float64) float64 {
	return 1 - distance
}

func rowToMemory(id string, row []any) Memory {
	m := Memory{ID: id}
	m.Text = toString(row[0])
	m.Hash = toString(row[1])
	m.Scope.OrgID = toString(row[2])
	m.Scope.ProjectID = toString(row[3])
	m.Scope.UserID = toString(row[4])
	m.Scope.AgentID = toString(row[5])
	m.Scope.RunID = toString(row[6])
	m.Scope.AppID = toString(row[7])
	var meta map[string]any
	_ = json.Unmarshal([]byte(toString(row[8])), &meta)
	m.Metadata = meta
	m.State = State(toString(row[9]))
	m.CreatedAt = toInt64(row[10])
	m.UpdatedAt = toInt64(row[11])
	return m
}

func esc(s string) string { return cozo.EscapeDatalog(s) }

func toString(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case float64:
		return int64(n)
	default:
		return 0
	}
}

func toFloat64(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	default:
		return 0
	}
}

func toFloat32Slice(v any) []float32 {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]float32, len(list))
	for i, item := range list {
		out[i] = float32(toFloat64(item))
	}
	return out
}

// ErrNotFound is returned by Get when no memory with the given ID exists.
type ErrNotFound struct{ ID string }

func (e ErrNotFound) Error() string { return fmt.Sprintf("memory %q not found", e.ID) }
