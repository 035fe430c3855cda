// Copyright (C) 2025-2026 Kraklabs. All rights reserved.
// Use of this source code is governed by the AGPL-3.0
// license that can be found in the LICENSE file.

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"testing"
)

type fakeEmbedProvider struct {
	vec        []float32
	dim        int
	err        error
	failCount  int
	calls      int
}

func (f *fakeEmbedProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	f.calls++
	if f.calls <= f.failCount {
		return nil, errors.New("transient provider error")
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.vec, nil
}

func (f *fakeEmbedProvider) Dimensions() int { return f.dim }

type fakePlanProvider struct {
	resp json.RawMessage
	err  error
}

func (f *fakePlanProvider) Complete(ctx context.Context, prompt string, schema json.RawMessage) (json.RawMessage, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

func TestGatewayEmbedNormalizes(t *testing.T) {
	provider := &fakeEmbedProvider{vec: []float32{3, 4}, dim: 2}
	gw := New(provider, nil, Config{})

	vec, err := gw.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	var sumSq float64
	for _, f := range vec {
		sumSq += float64(f) * float64(f)
	}
	if math.Abs(math.Sqrt(sumSq)-1) > 1e-6 {
		t.Errorf("Embed() result is not unit-normalized: norm = %v", math.Sqrt(sumSq))
	}
}

func TestGatewayEmbedRetriesTransientFailures(t *testing.T) {
	provider := &fakeEmbedProvider{vec: []float32{1, 0}, dim: 2, failCount: 2}
	gw := New(provider, nil, Config{})

	if _, err := gw.Embed(context.Background(), "hello"); err != nil {
		t.Fatalf("Embed() error = %v, want success after retries", err)
	}
	if provider.calls != 3 {
		t.Errorf("Embed() made %d calls, want 3 (2 failures + 1 success)", provider.calls)
	}
}

func TestGatewayEmbedNoProviderConfigured(t *testing.T) {
	gw := New(nil, nil, Config{})
	if _, err := gw.Embed(context.Background(), "hello"); err == nil {
		t.Error("Embed() with no provider should error")
	} else if _, ok := err.(*EmbedError); !ok {
		t.Errorf("Embed() error type = %T, want *EmbedError", err)
	}
}

func TestGatewayPlanRejectsInvalidJSON(t *testing.T) {
	provider := &fakePlanProvider{resp: json.RawMessage(`not json`)}
	gw := New(nil, provider, Config{})

	if _, err := gw.Plan(context.Background(), "prompt", nil); err == nil {
		t.Error("Plan() with a non-JSON response should error")
	}
}

func TestGatewayPlanReturnsValidJSON(t *testing.T) {
	provider := &fakePlanProvider{resp: json.RawMessage(`{"facts":["a"]}`)}
	gw := New(nil, provider, Config{})

	out, err := gw.Plan(context.Background(), "prompt", nil)
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	if string(out) != `{"facts":["a"]}` {
		t.Errorf("Plan() = %s, want echoed response", out)
	}
}

func TestGatewayDimensionsWithNoProvider(t *testing.T) {
	gw := New(nil, nil, Config{})
	if gw.Dimensions() != 0 {
		t.Errorf("Dimensions() with no provider = %d, want 0", gw.Dimensions())
	}
}
