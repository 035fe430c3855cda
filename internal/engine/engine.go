// Copyright (C) 2025-2026 Kraklabs. All rights reserved.
// Use of this source code is governed by the AGPL-3.0
// license that can be found in the LICENSE file.

package engine

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/kraklabs/mnemo/internal/gateway"
	"github.com/kraklabs/mnemo/internal/scope"
	"github.com/kraklabs/mnemo/internal/store"
)

const defaultNeighborK = 5

// Config configures the Engine.
type Config struct {
	NeighborK             int
	GraphEnabled          bool
	GraphQueryExtraction  string // "llm" or "heuristic"
	AddTimeout            time.Duration
	SearchTimeout         time.Duration
	DefaultTimeout        time.Duration
}

// Engine orchestrates the Vector Store, Graph Store, history log, and
// Embedding/LLM Gateway behind Scope enforcement (4.E). A single Engine
// value is constructed once per process and shared by every handler — no
// global state, no lazy re-initialization.
type Engine struct {
	vector    *store.VectorStore
	graph     *store.GraphStore
	history   *store.History
	gateway   *gateway.Gateway
	resolver  *scope.Resolver
	latches   *latchMap
	cfg       Config
	logger    *slog.Logger
}

// New constructs an Engine from its collaborators.
func New(vector *store.VectorStore, graph *store.GraphStore, history *store.History, gw *gateway.Gateway, resolver *scope.Resolver, cfg Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.NeighborK <= 0 {
		cfg.NeighborK = defaultNeighborK
	}
	if cfg.AddTimeout <= 0 {
		cfg.AddTimeout = 60 * time.Second
	}
	if cfg.SearchTimeout <= 0 {
		cfg.SearchTimeout = 15 * time.Second
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 10 * time.Second
	}
	if cfg.GraphQueryExtraction == "" {
		cfg.GraphQueryExtraction = "heuristic"
	}
	return &Engine{
		vector:   vector,
		graph:    graph,
		history:  history,
		gateway:  gw,
		resolver: resolver,
		latches:  newLatchMap(),
		cfg:      cfg,
		logger:   logger,
	}
}

// AddResult is the response shape of add() (6.1).
type AddResult struct {
	Results             []OpResult `json:"results"`
	Relations           []store.Relationship `json:"relations,omitempty"`
	PartialGraphFailure bool       `json:"partial_graph_failure,omitempty"`
}

// OpResult is one candidate's outcome within an add() call.
type OpResult struct {
	ID   string  `json:"id,omitempty"`
	Op   store.Op `json:"event"`
	Text string  `json:"text"`
}

// Add runs the fact-planner over messages (4.E.2): extract candidates,
// embed them, retrieve neighbors, reconcile into ADD/UPDATE/DELETE/NOOP,
// and apply in deterministic order.
func (e *Engine) Add(ctx context.Context, reqScope scope.Scope, messages []Message, metadata map[string]any) (*AddResult, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.AddTimeout)
	defer cancel()

	sc, err := e.resolver.Resolve(reqScope, true)
	if err != nil {
		return nil, toEngineError(err)
	}

	if len(messages) == 0 {
		return &AddResult{Results: []OpResult{}}, nil
	}

	// Step 1: extract candidates.
	candidates, err := extractCandidates(ctx, e.gateway, messages)
	if err != nil {
		return nil, newError(KindPlanError, "extraction failed, aborting add with no writes", err)
	}
	if len(candidates) == 0 {
		return &AddResult{Results: []OpResult{}}, nil
	}

	// Step 2: embed candidates.
	embeddings := make([][]float32, len(candidates))
	for i, c := range candidates {
		vec, err := e.gateway.Embed(ctx, c)
		if err != nil {
			return nil, newError(KindEmbedError, "embedding candidate failed, aborting add with no writes", err)
		}
		embeddings[i] = vec
	}

	// Step 3: retrieve neighbors, unioned into Ctx.
	ctxSet := map[string]store.SearchHit{}
	for _, vec := range embeddings {
		hits, err := e.vector.Search(ctx, sc, vec, e.cfg.NeighborK, store.Filters{})
		if err != nil {
			return nil, newError(KindStoreError, "neighbor search failed", err)
		}
		for _, h := range hits {
			ctxSet[h.Memory.ID] = h
		}
	}
	var neighbors []store.SearchHit
	for _, h := range ctxSet {
		neighbors = append(neighbors, h)
	}

	// Step 4: plan updates. On PlanError, fall back to treating every
	// candidate as ADD (4.E.5).
	decisions, err := planReconcile(ctx, e.gateway, candidates, neighbors)
	if err != nil {
		e.logger.Warn("reconcile plan failed, falling back to ADD for every candidate", "error", err)
		decisions = nil
		for i := range candidates {
			decisions = append(decisions, reconcileDecision{CandidateIndex: i, Op: string(store.OpAdd)})
		}
	}

	// Step 5: apply in deterministic order: DELETE, UPDATE, ADD.
	results, seenHashes, err := e.applyDecisions(ctx, sc, candidates, embeddings, decisions, ctxSet, metadata)
	if err != nil {
		return nil, err
	}

	result := &AddResult{Results: results}

	// Step 6: optional graph pass, never fails the overall add.
	if e.cfg.GraphEnabled {
		triples, err := extractTriples(ctx, e.gateway, candidates)
		if err != nil {
			e.logger.Warn("graph extraction failed", "error", err)
			result.PartialGraphFailure = true
		} else {
			for _, t := range triples {
				if t.Source == "" || t.Predicate == "" || t.Target == "" {
					continue
				}
				rel, err := e.graph.UpsertRelationship(ctx, sc, t.Source, t.Predicate, t.Target)
				if err != nil {
					e.logger.Warn("graph upsert failed", "error", err)
					result.PartialGraphFailure = true
					continue
				}
				result.Relations = append(result.Relations, rel)
			}
		}
	}

	_ = seenHashes
	return result, nil
}

// AddRaw stores text as a single new memory without running the
// fact-planner: no extraction, no neighbor search, no reconciliation. This
// is the `infer=false` path of the Remote Access Surface's add_memories
// tool (6.2) — the caller is asserting the text is already the fact to
// remember. The memory ID is still content-addressed (store.MemoryID), so
// calling AddRaw twice with identical text in the same scope upserts the
// same row rather than creating a duplicate (invariant 3).
func (e *Engine) AddRaw(ctx context.Context, reqScope scope.Scope, text string, metadata map[string]any) (*AddResult, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.AddTimeout)
	defer cancel()

	sc, err := e.resolver.Resolve(reqScope, true)
	if err != nil {
		return nil, toEngineError(err)
	}
	if text == "" {
		return &AddResult{Results: []OpResult{}}, nil
	}

	vec, err := e.gateway.Embed(ctx, text)
	if err != nil {
		return nil, newError(KindEmbedError, "embedding failed, aborting add with no writes", err)
	}

	hash := store.ContentHash(text)
	id := store.MemoryID(sc.CollectionKey(), text)
	meta := metadata
	if meta == nil {
		meta = map[string]any{}
	}
	now := time.Now().Unix()
	m := store.Memory{
		ID: id, Text: text, Embedding: vec, Scope: sc,
		Metadata: meta, Hash: hash, CreatedAt: now, UpdatedAt: now, State: store.StateActive,
	}

	unlock := e.latches.lock(id)
	defer unlock()
	if err := e.vector.Insert(ctx, m); err != nil {
		return nil, newError(KindStoreError, "insert failed", err)
	}
	if err := e.history.Append(ctx, store.HistoryEvent{
		EventID: store.NewHistoryEventID(), MemoryID: id, Scope: sc,
		Op: store.OpAdd, NewText: text, Actor: "caller", Timestamp: now,
	}); err != nil {
		e.logger.Warn("history append failed", "error", err)
	}

	return &AddResult{Results: []OpResult{{ID: id, Op: store.OpAdd, Text: text}}}, nil
}

// applyDecisions applies reconcile decisions in DELETE, UPDATE, ADD order
// (4.E.2 step 5), honoring the dedup tie-break and cross-scope guard
// (4.E.2 step 7).
func (e *Engine) applyDecisions(ctx context.Context, sc scope.Scope, candidates []string, embeddings [][]float32, decisions []reconcileDecision, ctxSet map[string]store.SearchHit, metadata map[string]any) ([]OpResult, map[string]bool, error) {
	byOp := map[store.Op][]reconcileDecision{}
	for _, d := range decisions {
		op := normalizeOp(d.Op)
		if op != store.OpNoop && op != store.OpAdd {
			if _, ok := ctxSet[d.TargetID]; !ok {
				// 4.E.2 step 7: target not in Ctx -> treat as ADD, unless
				// the id names another scope's memory; that case keeps its
				// op so the apply step rejects it with InvalidScope.
				if target, err := e.vector.Get(ctx, d.TargetID); err != nil || scopeEqual(target.Scope, sc) {
					op = store.OpAdd
				}
			}
		}
		byOp[op] = append(byOp[op], d)
	}

	results := make([]OpResult, len(candidates))
	for i, c := range candidates {
		results[i] = OpResult{Op: store.OpNoop, Text: c}
	}

	seenHashes := map[string]bool{}

	apply := func(d reconcileDecision, op store.Op) error {
		if d.CandidateIndex < 0 || d.CandidateIndex >= len(candidates) {
			return nil
		}
		text := candidates[d.CandidateIndex]
		hash := store.ContentHash(text)

		switch op {
		case store.OpDelete:
			target, err := e.vector.Get(ctx, d.TargetID)
			if err != nil {
				if _, ok := asNotFound(err); ok {
					results[d.CandidateIndex] = OpResult{ID: d.TargetID, Op: store.OpNoop, Text: text}
					return nil
				}
				return newError(KindStoreError, "lookup for delete failed", err)
			}
			if !scopeEqual(target.Scope, sc) {
				return newError(KindInvalidScope, "target belongs to a different scope", nil)
			}
			if target.State == store.StateDeleted {
				results[d.CandidateIndex] = OpResult{ID: d.TargetID, Op: store.OpNoop, Text: text}
				return nil
			}
			unlock := e.latches.lock(d.TargetID)
			defer unlock()
			if err := e.vector.Delete(ctx, d.TargetID); err != nil {
				return newError(KindStoreError, "delete failed", err)
			}
			if err := e.history.Append(ctx, store.HistoryEvent{
				EventID: store.NewHistoryEventID(), MemoryID: d.TargetID, Scope: sc,
				Op: store.OpDelete, PrevText: target.Text, Actor: "planner", Timestamp: time.Now().Unix(),
			}); err != nil {
				e.logger.Warn("history append failed", "error", err)
			}
			results[d.CandidateIndex] = OpResult{ID: d.TargetID, Op: store.OpDelete, Text: target.Text}

		case store.OpUpdate:
			target, err := e.vector.Get(ctx, d.TargetID)
			if err != nil {
				return newError(KindStoreError, "lookup for update failed", err)
			}
			if !scopeEqual(target.Scope, sc) {
				return newError(KindInvalidScope, "target belongs to a different scope", nil)
			}
			newText := d.Text
			if newText == "" {
				newText = text
			}
			vec, err := e.gateway.Embed(ctx, newText)
			if err != nil {
				return newError(KindEmbedError, "update embedding failed", err)
			}
			unlock := e.latches.lock(d.TargetID)
			defer unlock()
			if err := e.vector.Update(ctx, d.TargetID, store.UpdateFields{Text: &newText, Embedding: vec}); err != nil {
				return newError(KindStoreError, "update failed", err)
			}
			if err := e.history.Append(ctx, store.HistoryEvent{
				EventID: store.NewHistoryEventID(), MemoryID: d.TargetID, Scope: sc,
				Op: store.OpUpdate, PrevText: target.Text, NewText: newText, Actor: "planner", Timestamp: time.Now().Unix(),
			}); err != nil {
				e.logger.Warn("history append failed", "error", err)
			}
			results[d.CandidateIndex] = OpResult{ID: d.TargetID, Op: store.OpUpdate, Text: newText}

		case store.OpAdd:
			if seenHashes[hash] {
				// 4.E.2 step 7: duplicate candidate hash within this call -> NOOP.
				results[d.CandidateIndex] = OpResult{Op: store.OpNoop, Text: text}
				return nil
			}
			seenHashes[hash] = true
			id := store.MemoryID(sc.CollectionKey(), text)
			now := time.Now().Unix()
			meta := metadata
			if meta == nil {
				meta = map[string]any{}
			}
			m := store.Memory{
				ID: id, Text: text, Embedding: embeddings[d.CandidateIndex], Scope: sc,
				Metadata: meta, Hash: hash, CreatedAt: now, UpdatedAt: now, State: store.StateActive,
			}
			unlock := e.latches.lock(id)
			defer unlock()
			if err := e.vector.Insert(ctx, m); err != nil {
				return newError(KindStoreError, "insert failed", err)
			}
			if err := e.history.Append(ctx, store.HistoryEvent{
				EventID: store.NewHistoryEventID(), MemoryID: id, Scope: sc,
				Op: store.OpAdd, NewText: text, Actor: "planner", Timestamp: now,
			}); err != nil {
				e.logger.Warn("history append failed", "error", err)
			}
			results[d.CandidateIndex] = OpResult{ID: id, Op: store.OpAdd, Text: text}
		}
		return nil
	}

	for _, op := range []store.Op{store.OpDelete, store.OpUpdate, store.OpAdd} {
		for _, d := range byOp[op] {
			if err := apply(d, op); err != nil {
				// Stop the apply loop; already-applied operations remain
				// durable (4.E.5). Return what succeeded so far.
				return results, seenHashes, err
			}
		}
	}
	return results, seenHashes, nil
}

func normalizeOp(s string) store.Op {
	switch s {
	case string(store.OpAdd), string(store.OpUpdate), string(store.OpDelete), string(store.OpNoop):
		return store.Op(s)
	default:
		return store.OpAdd
	}
}

func scopeEqual(a, b scope.Scope) bool { return a.Equal(b) }

// SearchResult is the response shape of search() (6.1).
type SearchResult struct {
	Memories  []MemoryHit           `json:"memories"`
	Relations []store.Relationship  `json:"relations,omitempty"`
}

// MemoryHit is one ranked memory in a search response.
type MemoryHit struct {
	ID       string         `json:"id"`
	Text     string         `json:"text"`
	Score    float64        `json:"score"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Search runs the search algorithm (4.E.3).
func (e *Engine) Search(ctx context.Context, reqScope scope.Scope, query string, k int, filters store.Filters) (*SearchResult, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.SearchTimeout)
	defer cancel()

	sc, err := e.resolver.Resolve(reqScope, false)
	if err != nil {
		return nil, toEngineError(err)
	}
	if k == 0 {
		return &SearchResult{Memories: []MemoryHit{}}, nil
	}
	if k < 0 {
		k = 10
	}

	vec, err := e.gateway.Embed(ctx, query)
	if err != nil {
		return nil, newError(KindEmbedError, "query embedding failed", err)
	}
	hits, err := e.vector.Search(ctx, sc, vec, k, filters)
	if err != nil {
		return nil, newError(KindStoreError, "search failed", err)
	}

	memories := make([]MemoryHit, 0, len(hits))
	for _, h := range hits {
		memories = append(memories, MemoryHit{ID: h.Memory.ID, Text: h.Memory.Text, Score: h.Score, Metadata: h.Memory.Metadata})
	}
	sort.SliceStable(memories, func(i, j int) bool { return memories[i].Score > memories[j].Score })

	result := &SearchResult{Memories: memories}

	if e.cfg.GraphEnabled {
		var mentions []string
		if e.cfg.GraphQueryExtraction == "llm" {
			if triples, err := extractTriples(ctx, e.gateway, []string{query}); err == nil {
				for _, t := range triples {
					mentions = append(mentions, t.Source, t.Target)
				}
			}
		} else {
			mentions = extractEntityMentionsHeuristic(query)
		}
		if len(mentions) > 0 {
			_, rels, err := e.graph.Neighborhood(ctx, sc, mentions, 1)
			if err == nil {
				result.Relations = rels
			}
		}
	}

	return result, nil
}

// Get fetches a single memory, enforcing scope.
func (e *Engine) Get(ctx context.Context, reqScope scope.Scope, id string) (store.Memory, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.DefaultTimeout)
	defer cancel()

	sc, err := e.resolver.Resolve(reqScope, false)
	if err != nil {
		return store.Memory{}, toEngineError(err)
	}
	m, err := e.vector.Get(ctx, id)
	if err != nil {
		if nf, ok := asNotFound(err); ok {
			return store.Memory{}, newError(KindNotFound, nf.Error(), err)
		}
		return store.Memory{}, newError(KindStoreError, "get failed", err)
	}
	if !scopeEqual(m.Scope, sc) {
		return store.Memory{}, newError(KindNotFound, "memory not found in scope", nil)
	}
	return m, nil
}

// Update sets new_text on a memory, recomputing its embedding and hash
// atomically with the text update (invariant 2).
func (e *Engine) Update(ctx context.Context, reqScope scope.Scope, id, newText string) (store.Memory, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.DefaultTimeout)
	defer cancel()

	m, err := e.Get(ctx, reqScope, id)
	if err != nil {
		return store.Memory{}, err
	}
	vec, err := e.gateway.Embed(ctx, newText)
	if err != nil {
		return store.Memory{}, newError(KindEmbedError, "update embedding failed", err)
	}

	unlock := e.latches.lock(id)
	defer unlock()

	if err := e.vector.Update(ctx, id, store.UpdateFields{Text: &newText, Embedding: vec}); err != nil {
		return store.Memory{}, newError(KindStoreError, "update failed", err)
	}
	if err := e.history.Append(ctx, store.HistoryEvent{
		EventID: store.NewHistoryEventID(), MemoryID: id, Scope: m.Scope,
		Op: store.OpUpdate, PrevText: m.Text, NewText: newText, Actor: "caller", Timestamp: time.Now().Unix(),
	}); err != nil {
		e.logger.Warn("history append failed", "error", err)
	}
	return e.vector.Get(ctx, id)
}

// Delete soft-deletes a memory.
func (e *Engine) Delete(ctx context.Context, reqScope scope.Scope, id string) error {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.DefaultTimeout)
	defer cancel()

	m, err := e.Get(ctx, reqScope, id)
	if err != nil {
		return err
	}
	unlock := e.latches.lock(id)
	defer unlock()
	if err := e.vector.Delete(ctx, id); err != nil {
		return newError(KindStoreError, "delete failed", err)
	}
	if err := e.history.Append(ctx, store.HistoryEvent{
		EventID: store.NewHistoryEventID(), MemoryID: id, Scope: m.Scope,
		Op: store.OpDelete, PrevText: m.Text, Actor: "caller", Timestamp: time.Now().Unix(),
	}); err != nil {
		e.logger.Warn("history append failed", "error", err)
	}
	return nil
}

// DeleteAll soft-deletes every memory in scope that is not already deleted
// (active, paused, and archived alike).
func (e *Engine) DeleteAll(ctx context.Context, reqScope scope.Scope) error {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.DefaultTimeout)
	defer cancel()

	sc, err := e.resolver.Resolve(reqScope, true)
	if err != nil {
		return toEngineError(err)
	}
	memories, err := e.vector.List(ctx, sc, store.Filters{IncludeState: true}, store.Paging{})
	if err != nil {
		return newError(KindStoreError, "list for delete_all failed", err)
	}
	for _, m := range memories {
		if m.State == store.StateDeleted {
			continue
		}
		if err := e.Delete(ctx, reqScope, m.ID); err != nil {
			return err
		}
	}
	return nil
}

// List returns memories in scope matching filters, paged.
func (e *Engine) List(ctx context.Context, reqScope scope.Scope, filters store.Filters, paging store.Paging) ([]store.Memory, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.DefaultTimeout)
	defer cancel()

	sc, err := e.resolver.Resolve(reqScope, false)
	if err != nil {
		return nil, toEngineError(err)
	}
	memories, err := e.vector.List(ctx, sc, filters, paging)
	if err != nil {
		return nil, newError(KindStoreError, "list failed", err)
	}
	return memories, nil
}

// History returns the full append-only event log for a memory.
func (e *Engine) History(ctx context.Context, reqScope scope.Scope, id string) ([]store.HistoryEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.DefaultTimeout)
	defer cancel()

	sc, err := e.resolver.Resolve(reqScope, false)
	if err != nil {
		return nil, toEngineError(err)
	}
	events, err := e.history.For(ctx, sc, id)
	if err != nil {
		return nil, newError(KindStoreError, "history failed", err)
	}
	return events, nil
}

// SetState drives the state machine (4.E.4) directly, for explicit
// pause/resume/archive calls outside the planner.
func (e *Engine) SetState(ctx context.Context, reqScope scope.Scope, id string, newState store.State) (store.Memory, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.DefaultTimeout)
	defer cancel()

	m, err := e.Get(ctx, reqScope, id)
	if err != nil {
		return store.Memory{}, err
	}
	if !store.CanTransition(m.State, newState) {
		return store.Memory{}, newError(KindInvalidStateTransition, string(m.State)+" -> "+string(newState), nil)
	}
	unlock := e.latches.lock(id)
	defer unlock()
	if err := e.vector.SetState(ctx, id, newState); err != nil {
		return store.Memory{}, newError(KindStoreError, "set state failed", err)
	}
	return e.vector.Get(ctx, id)
}

func toEngineError(err error) error {
	var invalid *scope.ErrInvalidScope
	if errors.As(err, &invalid) {
		return newError(KindInvalidScope, invalid.Reason, err)
	}
	return newError(KindValidationError, "invalid request", err)
}

func asNotFound(err error) (store.ErrNotFound, bool) {
	var nf store.ErrNotFound
	if errors.As(err, &nf) {
		return nf, true
	}
	return store.ErrNotFound{}, false
}
