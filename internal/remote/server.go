// Copyright (C) 2025-2026 Kraklabs. All rights reserved.
// Use of this source code is governed by the AGPL-3.0
// license that can be found in the LICENSE file.

package remote

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"

	"github.com/kraklabs/mnemo/internal/engine"
)

// Server hosts the Remote Access Surface: a JSON-RPC 2.0 dispatch table
// reachable over GET /{client}/sse/{user_id} (event stream) and
// POST /messages/?session_id= (request submission), per 4.F.
type Server struct {
	engine   *engine.Engine
	sessions *sessionTable
	logger   *slog.Logger
	stop     chan struct{}
}

// Config configures the Remote Access Surface.
type Config struct {
	IdleTimeout time.Duration
}

// NewServer constructs a Server. Call Router to obtain the gin.Engine to
// run, and Close to stop the idle-session reaper.
func NewServer(eng *engine.Engine, cfg Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		engine:   eng,
		sessions: newSessionTable(cfg.IdleTimeout),
		logger:   logger,
		stop:     make(chan struct{}),
	}
	go s.sessions.reapIdle(s.stop)
	return s
}

// Close stops the session reaper goroutine.
func (s *Server) Close() { close(s.stop) }

// Router builds the gin.Engine exposing the Remote Access Surface.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", s.handleHealth)
	r.GET("/tools", s.handleToolsList)
	r.GET("/:client/sse/:user_id", s.handleSSE)
	r.POST("/messages/", s.handleMessages)

	return r
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "server": serverName, "version": serverVersion})
}

func (s *Server) handleToolsList(c *gin.Context) {
	c.JSON(http.StatusOK, toolsListResult{Tools: toolDefinitions()})
}

// handleSSE opens an event stream for a client, emitting an "endpoint"
// event carrying the session_id the client must pass to POST /messages/,
// then relaying the session's JSON-RPC responses for the life of the
// connection.
func (s *Server) handleSSE(c *gin.Context) {
	client := c.Param("client")
	userID := c.Param("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming unsupported"})
		return
	}

	sess := s.sessions.create(client, userID)
	defer s.sessions.remove(sess.ID)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)

	endpointPath := fmt.Sprintf("/messages/?session_id=%s", sess.ID)
	if err := sse.Encode(c.Writer, sse.Event{Event: "endpoint", Data: endpointPath}); err != nil {
		s.logger.Warn("sse encode failed", "error", err)
		return
	}
	flusher.Flush()

	ctx := c.Request.Context()
	keepalive := time.NewTicker(20 * time.Second)
	defer keepalive.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-keepalive.C:
			if err := sse.Encode(c.Writer, sse.Event{Event: "ping", Data: time.Now().Unix()}); err != nil {
				return
			}
			flusher.Flush()
		case resp, ok := <-sess.Messages:
			if !ok {
				return
			}
			payload, err := json.Marshal(resp)
			if err != nil {
				s.logger.Warn("encode rpc response failed", "error", err)
				continue
			}
			if err := sse.Encode(c.Writer, sse.Event{Event: "message", Data: string(payload)}); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// handleMessages accepts a JSON-RPC request for an open session, runs it,
// and queues the response onto that session's event stream.
func (s *Server) handleMessages(c *gin.Context) {
	sessionID := c.Query("session_id")
	sess, ok := s.sessions.get(sessionID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown or expired session_id"})
		return
	}

	var req rpcRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
		if !s.sessions.trySend(sess.ID, rpcResponse{JSONRPC: "2.0", Error: &rpcError{Code: codeParseError, Message: "Parse error", Data: err.Error()}}) {
			s.logger.Warn("session gone or buffer full, dropping parse-error response", "session_id", sess.ID)
		}
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"status": "queued"})

	resp := s.handleRequest(c.Request.Context(), sess, req)
	if resp.ID == nil && resp.Result == nil && resp.Error == nil {
		return
	}
	if !s.sessions.trySend(sess.ID, resp) {
		s.logger.Warn("session gone or buffer full, dropping response", "session_id", sess.ID)
	}
}
