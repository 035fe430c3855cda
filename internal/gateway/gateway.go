// Copyright (C) 2025-2026 Kraklabs. All rights reserved.
// Use of this source code is governed by the AGPL-3.0
// license that can be found in the LICENSE file.

// Package gateway is the stateless Embedding / LLM Gateway (4.B): two pure
// operations, embed and plan, isolating provider quirks, retries, and
// timeouts from the rest of the engine.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// EmbedError wraps a provider failure from Embed after retries are
// exhausted.
type EmbedError struct{ Cause error }

func (e *EmbedError) Error() string { return fmt.Sprintf("embed: %v", e.Cause) }
func (e *EmbedError) Unwrap() error  { return e.Cause }

// PlanError wraps a provider failure or schema violation from Plan.
type PlanError struct{ Cause error }

func (e *PlanError) Error() string { return fmt.Sprintf("plan: %v", e.Cause) }
func (e *PlanError) Unwrap() error  { return e.Cause }

// EmbedProvider is the narrow capability a concrete embedding backend
// implements.
type EmbedProvider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}

// PlanProvider is the narrow capability a concrete chat/completion backend
// implements. response is raw JSON text from the model, validated by the
// caller against schema.
type PlanProvider interface {
	Complete(ctx context.Context, prompt string, schema json.RawMessage) (json.RawMessage, error)
}

// Gateway is the concurrency-safe, connection-pooled adapter exposed to the
// Memory Engine. It owns retry policy so B's two operations are pure from
// the Engine's point of view: either they return a usable value or a typed
// error, never a partial one.
type Gateway struct {
	embedProvider EmbedProvider
	planProvider  PlanProvider
	maxConcurrent chan struct{}
}

// Config selects and bounds the Gateway's behavior.
type Config struct {
	MaxConcurrency int // LLM_MAX_CONCURRENCY, default 8
}

// ErrOverloaded is returned when the LLM concurrency cap is hit and no slot
// frees up within one second.
var ErrOverloaded = errors.New("gateway: overloaded")

// New constructs a Gateway from already-created providers.
func New(embed EmbedProvider, plan PlanProvider, cfg Config) *Gateway {
	max := cfg.MaxConcurrency
	if max <= 0 {
		max = 8
	}
	return &Gateway{
		embedProvider: embed,
		planProvider:  plan,
		maxConcurrent: make(chan struct{}, max),
	}
}

// Dimensions reports the fixed embedding dimension for this deployment.
func (g *Gateway) Dimensions() int {
	if g.embedProvider == nil {
		return 0
	}
	return g.embedProvider.Dimensions()
}

// Embed produces a unit-normalized vector of fixed dimension, making at most
// 3 attempts with exponential backoff within a 30s total budget (4.B).
func (g *Gateway) Embed(ctx context.Context, text string) ([]float32, error) {
	if g.embedProvider == nil {
		return nil, &EmbedError{Cause: errors.New("no embedding provider configured")}
	}
	if err := g.acquire(ctx); err != nil {
		return nil, err
	}
	defer g.release()

	var vec []float32
	op := func() error {
		v, err := g.embedProvider.Embed(ctx, text)
		if err != nil {
			return err
		}
		vec = v
		return nil
	}
	if err := retry(ctx, op); err != nil {
		return nil, &EmbedError{Cause: err}
	}
	return normalize(vec), nil
}

// Plan sends a structured prompt to a chat model and validates the shape of
// the response is non-empty JSON. Schema-level validation beyond "is it
// parseable, non-empty JSON" is the caller's responsibility (the planner
// knows the concrete shape it asked for).
func (g *Gateway) Plan(ctx context.Context, prompt string, schema json.RawMessage) (json.RawMessage, error) {
	if g.planProvider == nil {
		return nil, &PlanError{Cause: errors.New("no plan provider configured")}
	}
	if err := g.acquire(ctx); err != nil {
		return nil, err
	}
	defer g.release()

	var out json.RawMessage
	op := func() error {
		resp, err := g.planProvider.Complete(ctx, prompt, schema)
		if err != nil {
			return err
		}
		if len(resp) == 0 || !json.Valid(resp) {
			return backoff.Permanent(errors.New("empty or invalid JSON response"))
		}
		out = resp
		return nil
	}
	if err := retry(ctx, op); err != nil {
		return nil, &PlanError{Cause: err}
	}
	return out, nil
}

func (g *Gateway) acquire(ctx context.Context) error {
	select {
	case g.maxConcurrent <- struct{}{}:
		return nil
	default:
		select {
		case g.maxConcurrent <- struct{}{}:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
			return ErrOverloaded
		}
	}
}

func (g *Gateway) release() { <-g.maxConcurrent }

// retry runs op with bounded exponential backoff: max 3 attempts, ≤30s
// total budget (4.B).
func retry(ctx context.Context, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 30 * time.Second
	bo := backoff.WithMaxRetries(b, 2) // 3 total attempts
	return backoff.Retry(op, backoff.WithContext(bo, ctx))
}

func normalize(v []float32) []float32 {
	var sumSq float64
	for _, f := range v {
		sumSq += float64(f) * float64(f)
	}
	if sumSq == 0 {
		return v
	}
	norm := math.Sqrt(sumSq)
	out := make([]float32, len(v))
	for i, f := range v {
		out[i] = float32(float64(f) / norm)
	}
	return out
}
