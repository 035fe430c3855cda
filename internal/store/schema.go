// Copyright (C) 2025-2026 Kraklabs. All rights reserved.
// Use of this source code is governed by the AGPL-3.0
// license that can be found in the LICENSE file.

package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/kraklabs/mnemo/internal/cozo"
)

// EnsureSchema creates the mnemo_memory, mnemo_history, mnemo_entity, and
// mnemo_relationship relations if they do not already exist. dim is the
// fixed embedding dimension for this deployment (6.3).
func EnsureSchema(backend cozo.Backend, dim int) error {
	scripts := []string{
		`:create mnemo_memory {
			id: String
			=>
			text: String,
			hash: String,
			org_id: String,
			project_id: String,
			user_id: String,
			agent_id: String,
			run_id: String,
			app_id: String,
			metadata: Json,
			state: String,
			created_at: Int,
			updated_at: Int,
		}`,
		fmt.Sprintf(`:create mnemo_memory_embedding {
			id: String
			=>
			embedding: <F32; %d>,
		}`, dim),
		`:create mnemo_history {
			event_id: String
			=>
			memory_id: String,
			org_id: String,
			project_id: String,
			user_id: String,
			agent_id: String,
			run_id: String,
			app_id: String,
			op: String,
			prev_text: String,
			new_text: String,
			actor: String,
			timestamp: Int,
		}`,
		`:create mnemo_entity {
			scope_key: String,
			name: String
			=>
			type: String,
			org_id: String,
			project_id: String,
			user_id: String,
			agent_id: String,
			run_id: String,
			app_id: String,
			created_at: Int,
			updated_at: Int,
		}`,
		`:create mnemo_relationship {
			scope_key: String,
			source: String,
			predicate: String,
			target: String
			=>
			created_at: Int,
		}`,
	}

	for _, script := range scripts {
		if err := backend.Execute(context.Background(), script); err != nil && !isAlreadyExists(err) {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// EnsureHNSWIndexes creates the HNSW vector index over the memory embedding
// relation used by Vector Store search, pinned to cosine distance per the
// Open Question resolution in DESIGN.md.
func EnsureHNSWIndexes(backend cozo.Backend, dim int) error {
	script := fmt.Sprintf(`::hnsw create mnemo_memory_embedding:idx {
		dim: %d,
		dtype: F32,
		fields: [embedding],
		distance: Cosine,
		m: 32,
		ef_construction: 200,
	}`, dim)
	if err := backend.Execute(context.Background(), script); err != nil && !isAlreadyExists(err) {
		return fmt.Errorf("ensure hnsw index: %w", err)
	}
	return nil
}

func isAlreadyExists(err error) bool {
	return strings.Contains(err.Error(), "already exists")
}

// ResetAll drops every mnemo relation and recreates an empty schema with
// its HNSW index, for the CLI's destructive reset command.
func ResetAll(backend cozo.Backend, dim int) error {
	relations := []string{
		"mnemo_memory_embedding", // drop before mnemo_memory: HNSW index lives on this relation
		"mnemo_memory",
		"mnemo_history",
		"mnemo_entity",
		"mnemo_relationship",
	}
	for _, rel := range relations {
		if err := backend.Execute(context.Background(), "::remove "+rel); err != nil && !isNotFound(err) {
			return fmt.Errorf("reset: drop %s: %w", rel, err)
		}
	}
	if err := EnsureSchema(backend, dim); err != nil {
		return err
	}
	return EnsureHNSWIndexes(backend, dim)
}

func isNotFound(err error) bool {
	return strings.Contains(err.Error(), "not found") || strings.Contains(err.Error(), "does not exist")
}
