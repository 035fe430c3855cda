// Copyright (C) 2025-2026 Kraklabs. All rights reserved.
// Use of this source code is governed by the AGPL-3.0
// license that can be found in the LICENSE file.

package remote

import (
	"container/list"
	"sync"
	"time"

	"github.com/google/uuid"
)

const maxSessions = 1024

// session is one open SSE connection. Client is the calling agent's
// self-reported identity (the {client} path segment); UserID seeds the
// scope.Scope.UserID default for every JSON-RPC call made over it.
type session struct {
	ID       string
	Client   string
	UserID   string
	Messages chan rpcResponse
	touched  time.Time
	elem     *list.Element
}

// sessionTable holds open SSE sessions, evicting the least-recently-used
// entry once maxSessions is reached and reaping entries idle past
// idleTimeout (5, SESSION_IDLE_TIMEOUT).
type sessionTable struct {
	mu          sync.Mutex
	byID        map[string]*session
	lru         *list.List // front = most recently touched
	idleTimeout time.Duration
}

func newSessionTable(idleTimeout time.Duration) *sessionTable {
	if idleTimeout <= 0 {
		idleTimeout = 30 * time.Minute
	}
	return &sessionTable{
		byID:        make(map[string]*session),
		lru:         list.New(),
		idleTimeout: idleTimeout,
	}
}

// create opens a new session, evicting the oldest one first if the table
// is full.
func (t *sessionTable) create(client, userID string) *session {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.byID) >= maxSessions {
		t.evictOldestLocked()
	}

	s := &session{
		ID:       uuid.NewString(),
		Client:   client,
		UserID:   userID,
		Messages: make(chan rpcResponse, 32),
		touched:  time.Now(),
	}
	s.elem = t.lru.PushFront(s)
	t.byID[s.ID] = s
	return s
}

// get returns the session for id, bumping its LRU position and reporting
// whether it has exceeded idleTimeout without being touched.
func (t *sessionTable) get(id string) (*session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.byID[id]
	if !ok {
		return nil, false
	}
	if time.Since(s.touched) > t.idleTimeout {
		t.removeLocked(s)
		return nil, false
	}
	s.touched = time.Now()
	t.lru.MoveToFront(s.elem)
	return s, true
}

func (t *sessionTable) remove(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.byID[id]; ok {
		t.removeLocked(s)
	}
}

// trySend queues resp onto the session's stream, dropping it if the
// session has since been evicted or its buffer is full. Looking the
// session up and sending under the same lock that guards removeLocked's
// close(s.Messages) is what makes this safe: a session can't be closed
// between the caller's last sight of it and the send itself, which a bare
// "select with default" on an already-fetched *session cannot guarantee
// (a send on a closed channel panics outright; it never falls through to
// default).
func (t *sessionTable) trySend(id string, resp rpcResponse) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.byID[id]
	if !ok {
		return false
	}
	select {
	case s.Messages <- resp:
		return true
	default:
		return false
	}
}

func (t *sessionTable) evictOldestLocked() {
	back := t.lru.Back()
	if back == nil {
		return
	}
	t.removeLocked(back.Value.(*session))
}

func (t *sessionTable) removeLocked(s *session) {
	t.lru.Remove(s.elem)
	delete(t.byID, s.ID)
	close(s.Messages)
}

// reapIdle runs in a background goroutine, periodically closing sessions
// that have exceeded idleTimeout.
func (t *sessionTable) reapIdle(stop <-chan struct{}) {
	ticker := time.NewTicker(t.idleTimeout / 4)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			t.mu.Lock()
			var stale []*session
			for _, s := range t.byID {
				if time.Since(s.touched) > t.idleTimeout {
					stale = append(stale, s)
				}
			}
			for _, s := range stale {
				t.removeLocked(s)
			}
			t.mu.Unlock()
		}
	}
}
