// Copyright (C) 2025-2026 Kraklabs. All rights reserved.
// Use of this source code is governed by the AGPL-3.0
// license that can be found in the LICENSE file.

package remote

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/kraklabs/mnemo/internal/engine"
)

// handleRequest dispatches one JSON-RPC request against sess's scope
// identity and returns the response to relay back over SSE.
func (s *Server) handleRequest(ctx context.Context, sess *session, req rpcRequest) rpcResponse {
	switch req.Method {
	case "initialize":
		return rpcResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Result: initializeResult{
				ProtocolVersion: "2024-11-05",
				Capabilities:    capabilities{Tools: map[string]any{"listChanged": false}},
				ServerInfo:      serverInfo{Name: serverName, Version: serverVersion},
				Instructions:    mnemoInstructions,
			},
		}

	case "notifications/initialized":
		return rpcResponse{}

	case "tools/list":
		return rpcResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Result:  toolsListResult{Tools: toolDefinitions()},
		}

	case "tools/call":
		var params toolCallParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return rpcResponse{
				JSONRPC: "2.0", ID: req.ID,
				Error: &rpcError{Code: codeInvalidParams, Message: "Invalid params", Data: err.Error()},
			}
		}
		return s.dispatchToolCall(ctx, sess, req.ID, params)

	default:
		return rpcResponse{
			JSONRPC: "2.0", ID: req.ID,
			Error: &rpcError{Code: codeMethodNotFound, Message: "Method not found: " + req.Method},
		}
	}
}

func (s *Server) dispatchToolCall(ctx context.Context, sess *session, id any, params toolCallParams) rpcResponse {
	handler, ok := toolHandlers[params.Name]
	if !ok {
		return rpcResponse{
			JSONRPC: "2.0", ID: id,
			Result: toolCallResult{
				Content: []content{{Type: "text", Text: "Unknown tool: " + params.Name}},
				IsError: true,
			},
		}
	}

	result, err := handler(ctx, s, sess, params.Arguments)
	if err != nil {
		return rpcResponse{
			JSONRPC: "2.0", ID: id,
			Error: engineErrorToRPC(err),
		}
	}
	return rpcResponse{JSONRPC: "2.0", ID: id, Result: result}
}

// engineErrorToRPC maps an *engine.Error to a JSON-RPC error code in the
// -32000..-32099 server-error range (7). Errors that never reached the
// Engine's boundary are reported as an internal error.
func engineErrorToRPC(err error) *rpcError {
	var eerr *engine.Error
	if !errors.As(err, &eerr) {
		return &rpcError{Code: codeInternalError, Message: "Internal error", Data: err.Error()}
	}
	offset := map[engine.Kind]int{
		engine.KindInvalidScope:           0,
		engine.KindValidationError:        1,
		engine.KindNotFound:               2,
		engine.KindInvalidStateTransition: 3,
		engine.KindEmbedError:             4,
		engine.KindPlanError:              5,
		engine.KindStoreError:             6,
		engine.KindTimeout:                7,
		engine.KindOverloaded:             8,
		engine.KindPartialFailure:         9,
	}[eerr.Kind]
	return &rpcError{
		Code:    codeEngineBase - offset,
		Message: string(eerr.Kind) + ": " + eerr.Message,
	}
}
