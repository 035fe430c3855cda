//go:build cozodb

// Copyright (C) 2025-2026 Kraklabs. All rights reserved.
// Use of this source code is governed by the AGPL-3.0
// license that can be found in the LICENSE file.

package remote

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/kraklabs/mnemo/internal/cozo"
	"github.com/kraklabs/mnemo/internal/engine"
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

func newTestServer(t *testing.T, plan *fakePlanProvider) *Server {
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
	gw := gateway.New(&fakeEmbedProvider{vec: []float32{1, 0, 0, 0}}, plan, gateway.Config{})
	eng := engine.New(store.NewVectorStore(backend), store.NewGraphStore(backend), store.NewHistory(backend), gw, resolver, engine.Config{GraphEnabled: false}, nil)
	return NewServer(eng, Config{IdleTimeout: time.Minute}, nil)
}

func TestHandleAddMemoriesRequiresText(t *testing.T) {
	plan := &fakePlanProvider{}
	s := newTestServer(t, plan)
	sess := &session{UserID: "u1"}

	res, err := handleAddMemories(context.Background(), s, sess, map[string]any{})
	if err != nil {
		t.Fatalf("handleAddMemories() error = %v", err)
	}
	if !res.IsError {
		t.Error("handleAddMemories() without text should return an error result")
	}
}

func TestHandleAddMemoriesThenSearch(t *testing.T) {
	plan := &fakePlanProvider{responses: []json.RawMessage{
		json.RawMessage(`{"facts":["User lives in Berlin"]}`),
		json.RawMessage(`{"decisions":[{"candidate_index":0,"op":"ADD"}]}`),
	}}
	s := newTestServer(t, plan)
	sess := &session{UserID: "u1"}

	args := map[string]any{"text": "I live in Berlin"}
	if res, err := handleAddMemories(context.Background(), s, sess, args); err != nil || res.IsError {
		t.Fatalf("handleAddMemories() = %+v, err = %v", res, err)
	}

	searchRes, err := handleSearchMemory(context.Background(), s, sess, map[string]any{"query": "Where does the user live?"})
	if err != nil || searchRes.IsError {
		t.Fatalf("handleSearchMemory() = %+v, err = %v", searchRes, err)
	}
	if len(searchRes.Content) == 0 || searchRes.Content[0].Text == "" {
		t.Error("handleSearchMemory() should return a non-empty result payload")
	}
}

func TestHandleAddMemoriesInferFalseStoresVerbatim(t *testing.T) {
	// infer=false never calls the fact-planner, so a plan provider with no
	// canned responses must not be touched.
	s := newTestServer(t, &fakePlanProvider{})
	sess := &session{UserID: "u1"}

	args := map[string]any{"text": "Prefers dark roast coffee", "infer": false}
	res, err := handleAddMemories(context.Background(), s, sess, args)
	if err != nil || res.IsError {
		t.Fatalf("handleAddMemories(infer=false) = %+v, err = %v", res, err)
	}

	listRes, err := handleListMemories(context.Background(), s, sess, map[string]any{})
	if err != nil || listRes.IsError {
		t.Fatalf("handleListMemories() = %+v, err = %v", listRes, err)
	}
	if listRes.Content[0].Text == "[]" {
		t.Error("handleAddMemories(infer=false) should have stored a memory")
	}
}

func TestHandleSearchMemoryRequiresQuery(t *testing.T) {
	s := newTestServer(t, &fakePlanProvider{})
	sess := &session{UserID: "u1"}

	res, err := handleSearchMemory(context.Background(), s, sess, map[string]any{})
	if err != nil {
		t.Fatalf("handleSearchMemory() error = %v", err)
	}
	if !res.IsError {
		t.Error("handleSearchMemory() without a query should return an error result")
	}
}

func TestHandleSearchMemoryAppliesFilters(t *testing.T) {
	s := newTestServer(t, &fakePlanProvider{})
	sess := &session{UserID: "u1"}

	addArgs := map[string]any{
		"text":     "Prefers dark roast coffee",
		"infer":    false,
		"metadata": map[string]any{"category": "preferences"},
	}
	if res, err := handleAddMemories(context.Background(), s, sess, addArgs); err != nil || res.IsError {
		t.Fatalf("handleAddMemories() = %+v, err = %v", res, err)
	}

	matching, err := handleSearchMemory(context.Background(), s, sess, map[string]any{
		"query":   "coffee",
		"filters": map[string]any{"category": "preferences"},
	})
	if err != nil || matching.IsError {
		t.Fatalf("handleSearchMemory(matching filter) = %+v, err = %v", matching, err)
	}
	if matching.Content[0].Text == `{"memories":[]}` {
		t.Error("handleSearchMemory() with a matching filter should return the memory")
	}

	nonMatching, err := handleSearchMemory(context.Background(), s, sess, map[string]any{
		"query":   "coffee",
		"filters": map[string]any{"category": "other"},
	})
	if err != nil || nonMatching.IsError {
		t.Fatalf("handleSearchMemory(non-matching filter) = %+v, err = %v", nonMatching, err)
	}
	if nonMatching.Content[0].Text != `{"memories":[]}` {
		t.Errorf("handleSearchMemory() with a non-matching filter = %s, want empty", nonMatching.Content[0].Text)
	}
}

func TestHandleListMemoriesScopesByArgs(t *testing.T) {
	s := newTestServer(t, &fakePlanProvider{})
	sess := &session{UserID: "u1"}
	args := map[string]any{"text": "I live in Berlin", "infer": false, "agent_id": "agent-a"}
	if res, err := handleAddMemories(context.Background(), s, sess, args); err != nil || res.IsError {
		t.Fatalf("handleAddMemories() = %+v, err = %v", res, err)
	}

	sameAgent, err := handleListMemories(context.Background(), s, sess, map[string]any{"agent_id": "agent-a"})
	if err != nil || sameAgent.IsError {
		t.Fatalf("handleListMemories(agent-a) = %+v, err = %v", sameAgent, err)
	}
	if sameAgent.Content[0].Text == "[]" {
		t.Error("handleListMemories(agent-a) should see the memory scoped to agent-a")
	}

	otherAgent, err := handleListMemories(context.Background(), s, sess, map[string]any{"agent_id": "agent-b"})
	if err != nil || otherAgent.IsError {
		t.Fatalf("handleListMemories(agent-b) = %+v, err = %v", otherAgent, err)
	}
	if otherAgent.Content[0].Text != "[]" {
		t.Errorf("handleListMemories(agent-b) = %s, want empty (different agent scope)", otherAgent.Content[0].Text)
	}
}

func TestHandleDeleteAllMemoriesRequiresConfirm(t *testing.T) {
	s := newTestServer(t, &fakePlanProvider{})
	sess := &session{UserID: "u1"}
	args := map[string]any{"text": "I live in Berlin", "infer": false}
	if res, err := handleAddMemories(context.Background(), s, sess, args); err != nil || res.IsError {
		t.Fatalf("handleAddMemories() = %+v, err = %v", res, err)
	}

	res, err := handleDeleteAllMemories(context.Background(), s, sess, map[string]any{})
	if err != nil {
		t.Fatalf("handleDeleteAllMemories() error = %v", err)
	}
	if !res.IsError {
		t.Error("handleDeleteAllMemories() without confirm=true should return an error result")
	}

	listRes, err := handleListMemories(context.Background(), s, sess, map[string]any{})
	if err != nil || listRes.IsError {
		t.Fatalf("handleListMemories() = %+v, err = %v", listRes, err)
	}
	if listRes.Content[0].Text == "[]" {
		t.Error("an unconfirmed delete_all_memories must not have deleted anything")
	}
}

func TestHandleDeleteAllMemoriesConfirmed(t *testing.T) {
	s := newTestServer(t, &fakePlanProvider{})
	sess := &session{UserID: "u1"}
	args := map[string]any{"text": "I live in Berlin", "infer": false}
	if res, err := handleAddMemories(context.Background(), s, sess, args); err != nil || res.IsError {
		t.Fatalf("handleAddMemories() = %+v, err = %v", res, err)
	}

	if res, err := handleDeleteAllMemories(context.Background(), s, sess, map[string]any{"confirm": true}); err != nil || res.IsError {
		t.Fatalf("handleDeleteAllMemories(confirm=true) = %+v, err = %v", res, err)
	}

	listRes, err := handleListMemories(context.Background(), s, sess, map[string]any{})
	if err != nil || listRes.IsError {
		t.Fatalf("handleListMemories() after delete = %+v, err = %v", listRes, err)
	}
	if listRes.Content[0].Text != "[]" {
		t.Errorf("handleListMemories() after confirmed delete_all_memories = %s, want empty", listRes.Content[0].Text)
	}
}
