// Copyright (C) 2025-2026 Kraklabs. All rights reserved.
// Use of this source code is governed by the AGPL-3.0
// license that can be found in the LICENSE file.

package store

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
)

// ContentHash returns the content-hash of a memory's text, used for dedup
// (invariant 3) and for the embedding-text coherence check (invariant 2).
func ContentHash(text string) string {
	sum := sha256.Sum256([]byte(normalizeForHash(text)))
	return hex.EncodeToString(sum[:])
}

func normalizeForHash(text string) string {
	return strings.ToLower(strings.Join(strings.Fields(text), " "))
}

// MemoryID derives a deterministic, content-addressed ID for a memory from
// its text and scope collection key, mirroring the teacher's FactID(content,
// category) convention: identical content in the same scope always yields
// the same ID, which is what makes ADD idempotent on retry.
func MemoryID(scopeKey, text string) string {
	sum := sha256.Sum256([]byte(scopeKey + "|" + normalizeForHash(text)))
	return "mem:" + hex.EncodeToString(sum[:8])
}

// EntityID derives a deterministic ID for an entity from its scope key and
// normalized name.
func EntityID(scopeKey, name string) string {
	sum := sha256.Sum256([]byte(scopeKey + "|" + NormalizeEntityName(name)))
	return "ent:" + hex.EncodeToString(sum[:8])
}

// NewHistoryEventID returns a fresh random event ID. Unlike Memory/Entity
// IDs, history events are never deduplicated by content, so a random ID is
// correct here (grounded on google/uuid, used the same way eiondb-eion
// mints session and record IDs).
func NewHistoryEventID() string {
	return "evt:" + uuid.NewString()
}

// NormalizeEntityName lowercases, collapses whitespace, and snake_cases an
// entity or predicate name before storage (4.D guarantee).
func NormalizeEntityName(name string) string {
	fields := strings.Fields(strings.ToLower(name))
	return strings.Join(fields, "_")
}
