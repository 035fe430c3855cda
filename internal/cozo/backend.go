// Copyright (C) 2025-2026 Kraklabs. All rights reserved.
// Use of this source code is governed by the AGPL-3.0
// license that can be found in the LICENSE file.

// Package cozo adapts the embedded CozoDB engine into the narrow Backend
// capability the store layer needs: raw CozoScript in, rows out. It is the
// one place in the module that imports the database driver directly.
package cozo

import (
	"context"
	"fmt"
	"strings"

	cozo "github.com/cozodb/cozo-lib-go"
)

// Backend is the capability interface every store adapter (vector, graph,
// history) depends on. It deliberately exposes nothing but raw CozoScript
// execution — no ORM, no query builder — mirroring the narrow per-store
// capability interface the design calls for instead of a mixin hierarchy.
type Backend interface {
	Query(ctx context.Context, script string) (*QueryResult, error)
	Execute(ctx context.Context, script string) error
	EnsureSchema() error
	Close() error
}

// QueryResult is the tabular result of a CozoScript query.
type QueryResult struct {
	Headers []string
	Rows    [][]any
}

// EmbeddedConfig configures an embedded CozoDB instance.
type EmbeddedConfig struct {
	DataDir             string
	Engine              string // "sqlite", "rocksdb", or "mem"
	EmbeddingDimensions int
}

type embeddedBackend struct {
	db cozo.CozoDB
}

// NewEmbeddedBackend opens (creating if absent) an embedded CozoDB database
// under cfg.DataDir using the requested storage engine.
func NewEmbeddedBackend(cfg EmbeddedConfig) (Backend, error) {
	engine := cfg.Engine
	if engine == "" {
		engine = "sqlite"
	}
	path := cfg.DataDir
	if engine == "mem" {
		path = ""
	}
	db, err := cozo.New(engine, path, map[string]any{})
	if err != nil {
		return nil, fmt.Errorf("cozo: open %s database at %q: %w", engine, cfg.DataDir, err)
	}
	return &embeddedBackend{db: db}, nil
}

// EnsureSchema creates the process-local metadata relation. Domain schema
// (memory/entity/relationship/history relations) is the store layer's
// responsibility, not the backend's.
func (b *embeddedBackend) EnsureSchema() error {
	script := `:create mnemo_meta { key: String => value: String }`
	if err := b.Execute(context.Background(), script); err != nil && !isAlreadyExists(err) {
		return fmt.Errorf("ensure meta schema: %w", err)
	}
	return nil
}

// Query runs a read-only CozoScript program and returns its rows.
func (b *embeddedBackend) Query(ctx context.Context, script string) (*QueryResult, error) {
	res, err := b.db.Run(script, map[string]any{}, false)
	if err != nil {
		return nil, fmt.Errorf("cozo query: %w", err)
	}
	return &QueryResult{Headers: res.Headers, Rows: res.Rows}, nil
}

// Execute runs a mutating CozoScript program (:put / :rm / :create).
func (b *embeddedBackend) Execute(ctx context.Context, script string) error {
	if _, err := b.db.Run(script, map[string]any{}, false); err != nil {
		return fmt.Errorf("cozo execute: %w", err)
	}
	return nil
}

// Close releases the embedded database handle.
func (b *embeddedBackend) Close() error {
	b.db.Close()
	return nil
}

func isAlreadyExists(err error) bool {
	return strings.Contains(err.Error(), "already exists")
}

// EscapeDatalog escapes a string for safe interpolation into a single-quoted
// CozoScript string literal. CozoScript has no parameterized-query path for
// relation/column names, so literal values are escaped and embedded the way
// the teacher's own query builders do.
func EscapeDatalog(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `'`, `\'`)
	return s
}

// FormatVector renders a float32 embedding as a CozoScript vector literal
// argument, e.g. "1,2.5,3" for use inside vec(...).
func FormatVector(v []float32) string {
	parts := make([]string, len(v))
	for i, f := range v {
		parts[i] = fmt.Sprintf("%g", f)
	}
	return strings.Join(parts, ",")
}
