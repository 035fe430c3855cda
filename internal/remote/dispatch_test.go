//go:build cozodb

// Copyright (C) 2025-2026 Kraklabs. All rights reserved.
// Use of this source code is governed by the AGPL-3.0
// license that can be found in the LICENSE file.

package remote

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/kraklabs/mnemo/internal/engine"
)

func TestHandleRequestInitialize(t *testing.T) {
	s := newTestServer(t, &fakePlanProvider{})
	sess := &session{UserID: "u1"}

	resp := s.handleRequest(context.Background(), sess, rpcRequest{JSONRPC: "2.0", ID: 1, Method: "initialize"})
	if resp.Error != nil {
		t.Fatalf("handleRequest(initialize) error = %+v", resp.Error)
	}
	result, ok := resp.Result.(initializeResult)
	if !ok {
		t.Fatalf("handleRequest(initialize) result type = %T, want initializeResult", resp.Result)
	}
	if result.ServerInfo.Name != serverName {
		t.Errorf("ServerInfo.Name = %q, want %q", result.ServerInfo.Name, serverName)
	}
}

func TestHandleRequestToolsList(t *testing.T) {
	s := newTestServer(t, &fakePlanProvider{})
	sess := &session{UserID: "u1"}

	resp := s.handleRequest(context.Background(), sess, rpcRequest{JSONRPC: "2.0", ID: 1, Method: "tools/list"})
	result, ok := resp.Result.(toolsListResult)
	if !ok {
		t.Fatalf("handleRequest(tools/list) result type = %T, want toolsListResult", resp.Result)
	}
	if len(result.Tools) != len(toolHandlers) {
		t.Errorf("tools/list returned %d tools, want %d (matching toolHandlers)", len(result.Tools), len(toolHandlers))
	}
}

func TestHandleRequestUnknownMethod(t *testing.T) {
	s := newTestServer(t, &fakePlanProvider{})
	sess := &session{UserID: "u1"}

	resp := s.handleRequest(context.Background(), sess, rpcRequest{JSONRPC: "2.0", ID: 1, Method: "bogus/method"})
	if resp.Error == nil || resp.Error.Code != codeMethodNotFound {
		t.Errorf("handleRequest(bogus/method) error = %+v, want code %d", resp.Error, codeMethodNotFound)
	}
}

func TestHandleRequestToolsCallUnknownTool(t *testing.T) {
	s := newTestServer(t, &fakePlanProvider{})
	sess := &session{UserID: "u1"}

	params, _ := json.Marshal(toolCallParams{Name: "not_a_real_tool"})
	resp := s.handleRequest(context.Background(), sess, rpcRequest{JSONRPC: "2.0", ID: 1, Method: "tools/call", Params: params})
	result, ok := resp.Result.(toolCallResult)
	if !ok || !result.IsError {
		t.Fatalf("handleRequest(tools/call, unknown tool) result = %+v, ok = %v, want an error toolCallResult", resp.Result, ok)
	}
}

func TestHandleRequestToolsCallInvalidParams(t *testing.T) {
	s := newTestServer(t, &fakePlanProvider{})
	sess := &session{UserID: "u1"}

	resp := s.handleRequest(context.Background(), sess, rpcRequest{JSONRPC: "2.0", ID: 1, Method: "tools/call", Params: json.RawMessage(`not json`)})
	if resp.Error == nil || resp.Error.Code != codeInvalidParams {
		t.Errorf("handleRequest(tools/call, bad params) error = %+v, want code %d", resp.Error, codeInvalidParams)
	}
}

func TestHandleRequestToolsCallDeleteAllIsScopedPerSession(t *testing.T) {
	plan := &fakePlanProvider{responses: []json.RawMessage{
		json.RawMessage(`{"facts":["User lives in Berlin"]}`),
		json.RawMessage(`{"decisions":[{"candidate_index":0,"op":"ADD"}]}`),
	}}
	s := newTestServer(t, plan)
	owner := &session{UserID: "u1"}

	addParams, _ := json.Marshal(toolCallParams{Name: "add_memories", Arguments: map[string]any{
		"text": "I live in Berlin",
	}})
	resp := s.handleRequest(context.Background(), owner, rpcRequest{JSONRPC: "2.0", ID: 1, Method: "tools/call", Params: addParams})
	if resp.Error != nil {
		t.Fatalf("add_memories tools/call error = %+v", resp.Error)
	}

	// delete_all_memories for an unrelated session's scope touches nothing:
	// there is no cross-tenant identifier to reject, so this is a silent
	// no-op rather than an engine error.
	intruder := &session{UserID: "u2"}
	deleteParams, _ := json.Marshal(toolCallParams{Name: "delete_all_memories", Arguments: map[string]any{"confirm": true}})
	delResp := s.handleRequest(context.Background(), intruder, rpcRequest{JSONRPC: "2.0", ID: 2, Method: "tools/call", Params: deleteParams})
	if delResp.Error != nil {
		t.Errorf("delete_all_memories for an empty scope should not error, got %+v", delResp.Error)
	}

	listParams, _ := json.Marshal(toolCallParams{Name: "list_memories"})
	ownerList := s.handleRequest(context.Background(), owner, rpcRequest{JSONRPC: "2.0", ID: 3, Method: "tools/call", Params: listParams})
	result, ok := ownerList.Result.(toolCallResult)
	if !ok || result.Content[0].Text == "[]" {
		t.Errorf("owner's memory should survive an unrelated session's delete_all_memories, got %+v", ownerList.Result)
	}
}

func TestEngineErrorToRPCMapsKnownKind(t *testing.T) {
	err := &engine.Error{Kind: engine.KindNotFound, Message: "not found"}
	rpcErr := engineErrorToRPC(err)
	if rpcErr.Code != codeEngineBase-2 {
		t.Errorf("engineErrorToRPC(NotFound) code = %d, want %d", rpcErr.Code, codeEngineBase-2)
	}
}

func TestEngineErrorToRPCWrapsUnknownError(t *testing.T) {
	rpcErr := engineErrorToRPC(context.DeadlineExceeded)
	if rpcErr.Code != codeInternalError {
		t.Errorf("engineErrorToRPC(non-engine error) code = %d, want %d", rpcErr.Code, codeInternalError)
	}
}
