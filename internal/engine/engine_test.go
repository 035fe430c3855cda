//go:build cozodb

// Copyright (C) 2025-2026 Kraklabs. All rights reserved.
// Use of this source code is governed by the AGPL-3.0
// license that can be found in the LICENSE file.

package engine

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/kraklabs/mnemo/internal/cozo"
	"github.com/kraklabs/mnemo/internal/gateway"
	"github.com/kraklabs/mnemo/internal/scope"
	"github.com/kraklabs/mnemo/internal/store"
)

const testDim = 4

type fakeEmbedProvider struct{ vec []float32 }

func (f *fakeEmbedProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	return f.vec, nil
}
func (f *fakeEmbedProvider) Dimensions() int { return len(f.vec) }

// fakePlanProvider returns one canned response per call, in order, cycling
// on the last entry once exhausted (the heuristic graph path makes no Plan
// calls, so most tests only need two: extract, then reconcile).
type fakePlanProvider struct {
	responses []json.RawMessage
	calls     int
}

func (f *fakePlanProvider) Complete(ctx context.Context, prompt string, schema json.RawMessage) (json.RawMessage, error) {
	i := f.calls
	if i >= len(f.responses) {
		i = len(f.responses) - 1
	}
	f.calls++
	return f.responses[i], nil
}

func newTestEngine(t *testing.T, plan *fakePlanProvider, embed []float32) *Engine {
	t.Helper()
	backend, err := cozo.NewEmbeddedBackend(cozo.EmbeddedConfig{Engine: "mem", EmbeddingDimensions: testDim})
	if err != nil {
		t.Fatalf("NewEmbeddedBackend() error = %v", err)
	}
	t.Cleanup(func() { _ = backend.Close() })
	if err := store.EnsureSchema(backend, testDim); err != nil {
		t.Fatalf("EnsureSchema() error = %v", err)
	}
	if err := store.EnsureHNSWIndexes(backend, testDim); err != nil {
		t.Fatalf("EnsureHNSWIndexes() error = %v", err)
	}

	resolver, err := scope.NewResolver(scope.Scope{})
	if err != nil {
		t.Fatalf("NewResolver() error = %v", err)
	}
	gw := gateway.New(&fakeEmbedProvider{vec: embed}, plan, gateway.Config{})
	return New(store.NewVectorStore(backend), store.NewGraphStore(backend), store.NewHistory(backend), gw, resolver, Config{GraphEnabled: false}, nil)
}

func TestEngineAddCreatesMemory(t *testing.T) {
	plan := &fakePlanProvider{responses: []json.RawMessage{
		json.RawMessage(`{"facts":["User lives in Berlin"]}`),
		json.RawMessage(`{"decisions":[{"candidate_index":0,"op":"ADD"}]}`),
	}}
	e := newTestEngine(t, plan, []float32{1, 0, 0, 0})
	sc := scope.Scope{UserID: "u1"}

	result, err := e.Add(context.Background(), sc, []Message{{Role: "user", Content: "I live in Berlin"}}, nil)
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if len(result.Results) != 1 || result.Results[0].Op != store.OpAdd {
		t.Fatalf("Add() results = %+v, want one ADD", result.Results)
	}

	got, err := e.Get(context.Background(), sc, result.Results[0].ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Text != "User lives in Berlin" {
		t.Errorf("Get().Text = %q, want %q", got.Text, "User lives in Berlin")
	}
}

func TestEngineAddNoCandidatesIsNoop(t *testing.T) {
	plan := &fakePlanProvider{responses: []json.RawMessage{json.RawMessage(`{"facts":[]}`)}}
	e := newTestEngine(t, plan, []float32{1, 0, 0, 0})
	sc := scope.Scope{UserID: "u1"}

	result, err := e.Add(context.Background(), sc, []Message{{Role: "user", Content: "hello"}}, nil)
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if len(result.Results) != 0 {
		t.Errorf("Add() with no extracted facts should return no results, got %+v", result.Results)
	}
}

func TestEngineAddUpdateTargetsExistingMemory(t *testing.T) {
	plan := &fakePlanProvider{responses: []json.RawMessage{
		json.RawMessage(`{"facts":["User lives in Berlin"]}`),
		json.RawMessage(`{"decisions":[{"candidate_index":0,"op":"ADD"}]}`),
	}}
	e := newTestEngine(t, plan, []float32{1, 0, 0, 0})
	sc := scope.Scope{UserID: "u1"}

	first, err := e.Add(context.Background(), sc, []Message{{Role: "user", Content: "I live in Berlin"}}, nil)
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	existingID := first.Results[0].ID

	plan.responses = []json.RawMessage{
		json.RawMessage(`{"facts":["User moved to Munich"]}`),
		json.RawMessage(`{"decisions":[{"candidate_index":0,"op":"UPDATE","target_id":"` + existingID + `","text":"User lives in Munich now"}]}`),
	}
	plan.calls = 0

	second, err := e.Add(context.Background(), sc, []Message{{Role: "user", Content: "I moved to Munich"}}, nil)
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if len(second.Results) != 1 || second.Results[0].Op != store.OpUpdate || second.Results[0].ID != existingID {
		t.Fatalf("Add() results = %+v, want one UPDATE of %s", second.Results, existingID)
	}

	got, err := e.Get(context.Background(), sc, existingID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Text != "User lives in Munich now" {
		t.Errorf("Get().Text = %q, want the updated text", got.Text)
	}
}

func TestEngineAddDeleteTargetOutsideCtxBecomesAdd(t *testing.T) {
	plan := &fakePlanProvider{responses: []json.RawMessage{
		json.RawMessage(`{"facts":["Something new"]}`),
		json.RawMessage(`{"decisions":[{"candidate_index":0,"op":"DELETE","target_id":"mem:doesnotexist"}]}`),
	}}
	e := newTestEngine(t, plan, []float32{1, 0, 0, 0})
	sc := scope.Scope{UserID: "u1"}

	result, err := e.Add(context.Background(), sc, []Message{{Role: "user", Content: "irrelevant"}}, nil)
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if len(result.Results) != 1 || result.Results[0].Op != store.OpAdd {
		t.Fatalf("Add() results = %+v, want a DELETE of an out-of-Ctx target to become ADD", result.Results)
	}
}

func TestEngineAddCrossScopeUpdateIsInvalidScope(t *testing.T) {
	plan := &fakePlanProvider{responses: []json.RawMessage{
		json.RawMessage(`{"facts":["User lives in Berlin"]}`),
		json.RawMessage(`{"decisions":[{"candidate_index":0,"op":"ADD"}]}`),
	}}
	e := newTestEngine(t, plan, []float32{1, 0, 0, 0})
	owner := scope.Scope{UserID: "u1"}
	intruder := scope.Scope{UserID: "u2"}

	first, err := e.Add(context.Background(), owner, []Message{{Role: "user", Content: "I live in Berlin"}}, nil)
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	existingID := first.Results[0].ID

	// Put the cross-tenant memory directly into the intruder's neighbor
	// context by fetching it by id and building Ctx by hand (it's the only
	// way to land an out-of-tenant id into Ctx deterministically in this
	// harness), then exercise the apply-level guard directly.
	target, err := e.vector.Get(context.Background(), existingID)
	if err != nil {
		t.Fatalf("vector.Get() error = %v", err)
	}
	ctxSet := map[string]store.SearchHit{existingID: {Memory: target}}
	decisions := []reconcileDecision{{CandidateIndex: 0, Op: "UPDATE", TargetID: existingID, Text: "hijacked"}}

	_, _, err = e.applyDecisions(context.Background(), intruder, []string{"hijack attempt"}, [][]float32{{1, 0, 0, 0}}, decisions, ctxSet, nil)
	if err == nil {
		t.Fatal("applyDecisions() should reject an UPDATE whose target belongs to a different scope")
	}
	engErr, ok := err.(*Error)
	if !ok || engErr.Kind != KindInvalidScope {
		t.Errorf("applyDecisions() error = %v, want *Error{Kind: InvalidScope}", err)
	}
}

func TestEngineGetWrongScopeIsNotFound(t *testing.T) {
	plan := &fakePlanProvider{responses: []json.RawMessage{
		json.RawMessage(`{"facts":["User lives in Berlin"]}`),
		json.RawMessage(`{"decisions":[{"candidate_index":0,"op":"ADD"}]}`),
	}}
	e := newTestEngine(t, plan, []float32{1, 0, 0, 0})
	owner := scope.Scope{UserID: "u1"}
	intruder := scope.Scope{UserID: "u2"}

	result, err := e.Add(context.Background(), owner, []Message{{Role: "user", Content: "I live in Berlin"}}, nil)
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	_, err = e.Get(context.Background(), intruder, result.Results[0].ID)
	if err == nil {
		t.Fatal("Get() from another tenant's scope should fail")
	}
	engErr, ok := err.(*Error)
	if !ok || engErr.Kind != KindNotFound {
		t.Errorf("Get() error = %v, want *Error{Kind: NotFound} (indistinguishable from absence)", err)
	}
}

func TestEngineSetStateRejectsInvalidTransition(t *testing.T) {
	plan := &fakePlanProvider{responses: []json.RawMessage{
		json.RawMessage(`{"facts":["User lives in Berlin"]}`),
		json.RawMessage(`{"decisions":[{"candidate_index":0,"op":"ADD"}]}`),
	}}
	e := newTestEngine(t, plan, []float32{1, 0, 0, 0})
	sc := scope.Scope{UserID: "u1"}

	result, err := e.Add(context.Background(), sc, []Message{{Role: "user", Content: "I live in Berlin"}}, nil)
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	id := result.Results[0].ID

	if _, err := e.SetState(context.Background(), sc, id, store.StateArchived); err != nil {
		t.Fatalf("SetState(archived) error = %v", err)
	}
	if _, err := e.SetState(context.Background(), sc, id, store.StateActive); err == nil {
		t.Fatal("SetState(active) from archived should be rejected")
	}
}

func TestEngineDeleteAllSoftDeletesEverythingInScope(t *testing.T) {
	plan := &fakePlanProvider{responses: []json.RawMessage{
		json.RawMessage(`{"facts":["User lives in Berlin"]}`),
		json.RawMessage(`{"decisions":[{"candidate_index":0,"op":"ADD"}]}`),
	}}
	e := newTestEngine(t, plan, []float32{1, 0, 0, 0})
	sc := scope.Scope{UserID: "u1"}

	if _, err := e.Add(context.Background(), sc, []Message{{Role: "user", Content: "I live in Berlin"}}, nil); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if err := e.DeleteAll(context.Background(), sc); err != nil {
		t.Fatalf("DeleteAll() error = %v", err)
	}

	memories, err := e.List(context.Background(), sc, store.Filters{}, store.Paging{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(memories) != 0 {
		t.Errorf("List() after DeleteAll() = %+v, want empty", memories)
	}
}
