// Copyright (C) 2025-2026 Kraklabs. All rights reserved.
// Use of this source code is governed by the AGPL-3.0
// license that can be found in the LICENSE file.

package remote

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kraklabs/mnemo/internal/engine"
	"github.com/kraklabs/mnemo/internal/scope"
	"github.com/kraklabs/mnemo/internal/store"
)

// toolHandler is the signature for a Remote Access Surface tool handler.
type toolHandler func(ctx context.Context, s *Server, sess *session, args map[string]any) (*toolCallResult, error)

var toolHandlers = map[string]toolHandler{
	"add_memories":        handleAddMemories,
	"search_memory":       handleSearchMemory,
	"list_memories":       handleListMemories,
	"delete_all_memories": handleDeleteAllMemories,
}

func toolDefinitions() []tool {
	return []tool{
		{
			Name:        "add_memories",
			Description: "Persist a durable fact to memory. By default it is reconciled against anything already known in scope (set infer=false to store the text verbatim instead).",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"text":     map[string]any{"type": "string", "description": "The fact or statement to remember"},
					"metadata": map[string]any{"type": "object", "description": "Arbitrary metadata attached to the stored memory"},
					"infer":    map[string]any{"type": "boolean", "description": "Reconcile against existing memories via the fact-planner (true) or store text verbatim (false)", "default": true},
					"agent_id": map[string]any{"type": "string", "description": "Scope override: agent identifier"},
					"run_id":   map[string]any{"type": "string", "description": "Scope override: run identifier"},
					"app_id":   map[string]any{"type": "string", "description": "Scope override: application identifier"},
				},
				"required": []string{"text"},
			},
		},
		{
			Name:        "search_memory",
			Description: "Search scoped memory for the facts most relevant to a query, ranked by similarity.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"query":    map[string]any{"type": "string", "description": "The question or topic to search for"},
					"limit":    map[string]any{"type": "integer", "description": "Maximum number of results", "default": 10},
					"filters":  map[string]any{"type": "object", "description": "Metadata equality filters, e.g. {\"category\": \"preferences\"}"},
					"agent_id": map[string]any{"type": "string"},
					"run_id":   map[string]any{"type": "string"},
					"app_id":   map[string]any{"type": "string"},
				},
				"required": []string{"query"},
			},
		},
		{
			Name:        "list_memories",
			Description: "List all active memories in scope without a specific query.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"page":     map[string]any{"type": "integer", "default": 1},
					"size":     map[string]any{"type": "integer", "default": 50},
					"filters":  map[string]any{"type": "object", "description": "Metadata equality filters"},
					"agent_id": map[string]any{"type": "string"},
					"run_id":   map[string]any{"type": "string"},
					"app_id":   map[string]any{"type": "string"},
				},
			},
		},
		{
			Name:        "delete_all_memories",
			Description: "Soft-delete every memory in scope that is not already deleted. Requires confirm=true; use only when explicitly asked to forget everything.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"confirm":  map[string]any{"type": "boolean", "description": "Must be true to execute the deletion"},
					"agent_id": map[string]any{"type": "string"},
					"run_id":   map[string]any{"type": "string"},
					"app_id":   map[string]any{"type": "string"},
				},
				"required": []string{"confirm"},
			},
		},
	}
}

func getString(args map[string]any, key, fallback string) string {
	if v, ok := args[key]; ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return fallback
}

func getInt(args map[string]any, key string, fallback int) int {
	if v, ok := args[key]; ok {
		switch n := v.(type) {
		case float64:
			return int(n)
		case int:
			return n
		}
	}
	return fallback
}

func getBool(args map[string]any, key string, fallback bool) bool {
	if v, ok := args[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return fallback
}

// filtersFromArgs builds the metadata-equality filter a search_memory or
// list_memories call asks for (6.2's `filters?: object` parameter).
func filtersFromArgs(args map[string]any) store.Filters {
	if v, ok := args["filters"].(map[string]any); ok {
		return store.Filters{Metadata: v}
	}
	return store.Filters{}
}

// scopeFromArgs builds the request scope for a tool call: the session's
// user_id is the default identity, optional agent_id/run_id/app_id
// arguments narrow it further per call.
func scopeFromArgs(sess *session, args map[string]any) scope.Scope {
	return scope.Scope{
		UserID:  sess.UserID,
		AgentID: getString(args, "agent_id", ""),
		RunID:   getString(args, "run_id", ""),
		AppID:   getString(args, "app_id", ""),
	}
}

func errResult(format string, a ...any) *toolCallResult {
	return &toolCallResult{
		Content: []content{{Type: "text", Text: fmt.Sprintf(format, a...)}},
		IsError: true,
	}
}

func textResult(text string) *toolCallResult {
	return &toolCallResult{Content: []content{{Type: "text", Text: text}}}
}

func handleAddMemories(ctx context.Context, s *Server, sess *session, args map[string]any) (*toolCallResult, error) {
	text := getString(args, "text", "")
	if text == "" {
		return errResult("Missing required parameter: text"), nil
	}

	var metadata map[string]any
	if v, ok := args["metadata"].(map[string]any); ok {
		metadata = v
	}

	var (
		result *engine.AddResult
		err    error
	)
	if getBool(args, "infer", true) {
		messages := []engine.Message{{Role: "user", Content: text}}
		result, err = s.engine.Add(ctx, scopeFromArgs(sess, args), messages, metadata)
	} else {
		result, err = s.engine.AddRaw(ctx, scopeFromArgs(sess, args), text, metadata)
	}
	if err != nil {
		return errResult("add_memories failed: %v", err), nil
	}

	out, err := json.Marshal(result)
	if err != nil {
		return errResult("add_memories: encode result: %v", err), nil
	}
	return textResult(string(out)), nil
}

func handleSearchMemory(ctx context.Context, s *Server, sess *session, args map[string]any) (*toolCallResult, error) {
	query := getString(args, "query", "")
	if query == "" {
		return errResult("Missing required parameter: query"), nil
	}
	limit := getInt(args, "limit", 10)

	result, err := s.engine.Search(ctx, scopeFromArgs(sess, args), query, limit, filtersFromArgs(args))
	if err != nil {
		return errResult("search_memory failed: %v", err), nil
	}
	out, err := json.Marshal(result)
	if err != nil {
		return errResult("search_memory: encode result: %v", err), nil
	}
	return textResult(string(out)), nil
}

func handleListMemories(ctx context.Context, s *Server, sess *session, args map[string]any) (*toolCallResult, error) {
	page := getInt(args, "page", 1)
	size := getInt(args, "size", 50)

	memories, err := s.engine.List(ctx, scopeFromArgs(sess, args), filtersFromArgs(args), store.Paging{Page: page, Size: size})
	if err != nil {
		return errResult("list_memories failed: %v", err), nil
	}
	out, err := json.Marshal(memories)
	if err != nil {
		return errResult("list_memories: encode result: %v", err), nil
	}
	return textResult(string(out)), nil
}

func handleDeleteAllMemories(ctx context.Context, s *Server, sess *session, args map[string]any) (*toolCallResult, error) {
	if !getBool(args, "confirm", false) {
		return errResult("delete_all_memories requires confirm=true"), nil
	}
	if err := s.engine.DeleteAll(ctx, scopeFromArgs(sess, args)); err != nil {
		return errResult("delete_all_memories failed: %v", err), nil
	}
	return textResult("All memories in scope deleted."), nil
}
