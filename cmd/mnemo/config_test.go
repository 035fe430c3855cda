// Copyright (C) 2025-2026 Kraklabs. All rights reserved.
// Use of this source code is governed by the AGPL-3.0
// license that can be found in the LICENSE file.

package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "1", cfg.Version)
	assert.Equal(t, "sqlite", cfg.Storage.Engine)
	assert.Empty(t, cfg.Storage.Path, "default path should be empty (resolved at runtime)")

	assert.Equal(t, "ollama", cfg.Embedding.Provider)
	assert.Equal(t, 768, cfg.Embedding.Dimensions)
	assert.NotEmpty(t, cfg.Embedding.BaseURL)
	assert.NotEmpty(t, cfg.Embedding.Model)

	assert.Equal(t, "anthropic", cfg.Plan.Provider)
	assert.Equal(t, 5, cfg.Engine.NeighborK)
	assert.True(t, cfg.Engine.GraphEnabled)
	assert.Equal(t, "heuristic", cfg.Engine.GraphQueryExtraction)
	assert.Equal(t, "cosine", cfg.Engine.VectorDistance)
	assert.NotEmpty(t, cfg.Server.ListenAddr)
}

func TestValidateConfigRejectsUnknownStorageEngine(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Storage.Engine = "postgres"
	require.Error(t, ValidateConfig(cfg))
}

func TestValidateConfigRejectsZeroDimensions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Embedding.Dimensions = 0
	require.Error(t, ValidateConfig(cfg))
}

func TestValidateConfigRejectsOutOfRangeNeighborK(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Engine.NeighborK = 0
	require.Error(t, ValidateConfig(cfg))

	cfg.Engine.NeighborK = 51
	require.Error(t, ValidateConfig(cfg))
}

func TestValidateConfigAcceptsDefaults(t *testing.T) {
	require.NoError(t, ValidateConfig(DefaultConfig()))
}

func TestConfigEnvOverridesStorage(t *testing.T) {
	t.Setenv("STORAGE_ENGINE", "rocksdb")
	t.Setenv("MNEMO_STORAGE_PATH", "/custom/path")

	cfg := DefaultConfig()
	cfg.applyEnvOverrides()

	assert.Equal(t, "rocksdb", cfg.Storage.Engine)
	assert.Equal(t, "/custom/path", cfg.Storage.Path)
}

func TestConfigEnvOverridesEmbedding(t *testing.T) {
	t.Setenv("EMBEDDING_PROVIDER", "openai")
	t.Setenv("EMBEDDING_DIM", "1536")

	cfg := DefaultConfig()
	cfg.applyEnvOverrides()

	assert.Equal(t, "openai", cfg.Embedding.Provider)
	assert.Equal(t, 1536, cfg.Embedding.Dimensions)
}

func TestConfigEnvOverridesPlanFallsBackToAnthropicAPIKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-test-key")

	cfg := DefaultConfig()
	cfg.applyEnvOverrides()

	assert.Equal(t, "sk-test-key", cfg.Plan.APIKey)
}

func TestConfigEnvOverridesGraphEnabled(t *testing.T) {
	t.Setenv("GRAPH_ENABLED", "false")

	cfg := DefaultConfig()
	cfg.applyEnvOverrides()

	assert.False(t, cfg.Engine.GraphEnabled)
}

func TestConfigEnvOverridesNeighborK(t *testing.T) {
	t.Setenv("NEIGHBOR_K", "8")

	cfg := DefaultConfig()
	cfg.applyEnvOverrides()

	assert.Equal(t, 8, cfg.Engine.NeighborK)
}
