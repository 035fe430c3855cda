// Copyright (C) 2025-2026 Kraklabs. All rights reserved.
// Use of this source code is governed by the AGPL-3.0
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/kraklabs/mnemo/internal/cozo"
	"github.com/kraklabs/mnemo/internal/engine"
	"github.com/kraklabs/mnemo/internal/gateway"
	"github.com/kraklabs/mnemo/internal/scope"
	"github.com/kraklabs/mnemo/internal/store"
)

// runtime bundles the process's long-lived collaborators so every command
// (serve, status, reset, export, import) can be built from the same
// configuration path.
type runtime struct {
	backend cozo.Backend
	vector  *store.VectorStore
	graph   *store.GraphStore
	history *store.History
	engine  *engine.Engine
}

func newRuntime(cfg *Config, logger *slog.Logger) (*runtime, error) {
	dataDir, err := ResolveDataDir(cfg)
	if err != nil {
		return nil, fmt.Errorf("resolve data dir: %w", err)
	}
	if err := os.MkdirAll(dataDir, 0750); err != nil {
		return nil, fmt.Errorf("cannot create data directory %s: %w", dataDir, err)
	}

	backend, err := cozo.NewEmbeddedBackend(cozo.EmbeddedConfig{
		DataDir:             dataDir,
		Engine:              cfg.Storage.Engine,
		EmbeddingDimensions: cfg.Embedding.Dimensions,
	})
	if err != nil {
		return nil, fmt.Errorf("open storage backend: %w", err)
	}
	if err := backend.EnsureSchema(); err != nil {
		return nil, fmt.Errorf("ensure meta schema: %w", err)
	}
	if err := store.EnsureSchema(backend, cfg.Embedding.Dimensions); err != nil {
		return nil, fmt.Errorf("ensure store schema: %w", err)
	}
	if err := store.EnsureHNSWIndexes(backend, cfg.Embedding.Dimensions); err != nil {
		return nil, fmt.Errorf("ensure hnsw indexes: %w", err)
	}

	embedProvider := gateway.NewOllamaEmbedProvider(cfg.Embedding.BaseURL, cfg.Embedding.Model, cfg.Embedding.Dimensions)
	planProvider := gateway.NewAnthropicPlanProvider(cfg.Plan.APIKey, anthropic.Model(cfg.Plan.Model))
	gw := gateway.New(embedProvider, planProvider, gateway.Config{MaxConcurrency: cfg.Engine.MaxConcurrency})

	resolver, err := scope.NewResolver(scope.Scope{})
	if err != nil {
		return nil, fmt.Errorf("create scope resolver: %w", err)
	}

	vector := store.NewVectorStore(backend)
	graph := store.NewGraphStore(backend)
	history := store.NewHistory(backend)

	eng := engine.New(vector, graph, history, gw, resolver, engine.Config{
		NeighborK:            cfg.Engine.NeighborK,
		GraphEnabled:         cfg.Engine.GraphEnabled,
		GraphQueryExtraction: cfg.Engine.GraphQueryExtraction,
		AddTimeout:           60 * time.Second,
		SearchTimeout:        15 * time.Second,
		DefaultTimeout:       10 * time.Second,
	}, logger)

	return &runtime{backend: backend, vector: vector, graph: graph, history: history, engine: eng}, nil
}

func (r *runtime) Close() error {
	return r.backend.Close()
}
