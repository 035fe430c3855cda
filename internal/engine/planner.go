// Copyright (C) 2025-2026 Kraklabs. All rights reserved.
// Use of this source code is governed by the AGPL-3.0
// license that can be found in the LICENSE file.

package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode"

	"github.com/orsinium-labs/stopwords"

	"github.com/kraklabs/mnemo/internal/gateway"
	"github.com/kraklabs/mnemo/internal/store"
)

// Message is one turn of a conversation passed to add().
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

var extractSchema = json.RawMessage(`{"type":"object","properties":{"facts":{"type":"array","items":{"type":"string"}}},"required":["facts"]}`)
var reconcileSchema = json.RawMessage(`{"type":"object","properties":{"decisions":{"type":"array","items":{"type":"object","properties":{"candidate_index":{"type":"integer"},"op":{"type":"string"},"target_id":{"type":"string"},"text":{"type":"string"}}}}},"required":["decisions"]}`)
var graphSchema = json.RawMessage(`{"type":"object","properties":{"triples":{"type":"array","items":{"type":"object","properties":{"source":{"type":"string"},"predicate":{"type":"string"},"target":{"type":"string"}}}}},"required":["triples"]}`)

type extractResponse struct {
	Facts []string `json:"facts"`
}

type reconcileDecision struct {
	CandidateIndex int    `json:"candidate_index"`
	Op             string `json:"op"`
	TargetID       string `json:"target_id"`
	Text           string `json:"text"`
}

type reconcileResponse struct {
	Decisions []reconcileDecision `json:"decisions"`
}

type triple struct {
	Source    string `json:"source"`
	Predicate string `json:"predicate"`
	Target    string `json:"target"`
}

type graphResponse struct {
	Triples []triple `json:"triples"`
}

// extractCandidates calls B.plan with a fact-extraction prompt over
// messages (4.E.2 step 1). Returns one concise third-person statement per
// candidate fact.
func extractCandidates(ctx context.Context, gw *gateway.Gateway, messages []Message) ([]string, error) {
	var sb strings.Builder
	sb.WriteString("Extract durable facts worth remembering long-term from this conversation. ")
	sb.WriteString("Each fact must be a concise third-person statement in the same language as the input. ")
	sb.WriteString("If nothing is worth remembering, return an empty list.\n\nConversation:\n")
	for _, m := range messages {
		fmt.Fprintf(&sb, "%s: %s\n", m.Role, m.Content)
	}

	raw, err := gw.Plan(ctx, sb.String(), extractSchema)
	if err != nil {
		return nil, err
	}
	var resp extractResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, &gateway.PlanError{Cause: fmt.Errorf("decode extraction response: %w", err)}
	}
	return resp.Facts, nil
}

// planReconcile calls B.plan with a reconcile prompt containing the
// candidate facts and the neighbor context (4.E.2 step 4).
func planReconcile(ctx context.Context, gw *gateway.Gateway, candidates []string, ctxSet []store.SearchHit) ([]reconcileDecision, error) {
	var sb strings.Builder
	sb.WriteString("You are deduplicating candidate facts against a user's existing memories. ")
	sb.WriteString("For each candidate, decide exactly one operation: ADD (new fact, no match), ")
	sb.WriteString("UPDATE target_id=<id> (refines an existing memory; include new text), ")
	sb.WriteString("DELETE target_id=<id> (the candidate invalidates an existing memory; no new text), ")
	sb.WriteString("or NOOP (already represented).\n\nCandidates:\n")
	for i, c := range candidates {
		fmt.Fprintf(&sb, "[%d] %s\n", i, c)
	}
	sb.WriteString("\nExisting memories:\n")
	for _, hit := range ctxSet {
		fmt.Fprintf(&sb, "%s: %s\n", hit.Memory.ID, hit.Memory.Text)
	}

	raw, err := gw.Plan(ctx, sb.String(), reconcileSchema)
	if err != nil {
		return nil, err
	}
	var resp reconcileResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, &gateway.PlanError{Cause: fmt.Errorf("decode reconcile response: %w", err)}
	}
	return resp.Decisions, nil
}

// extractTriples calls B.plan with a graph-extraction schema over the same
// candidate facts (4.E.2 step 6).
func extractTriples(ctx context.Context, gw *gateway.Gateway, candidates []string) ([]triple, error) {
	var sb strings.Builder
	sb.WriteString("Extract (source, predicate, target) relationship triples from these facts, if any:\n")
	for _, c := range candidates {
		sb.WriteString(c)
		sb.WriteByte('\n')
	}
	raw, err := gw.Plan(ctx, sb.String(), graphSchema)
	if err != nil {
		return nil, err
	}
	var resp graphResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, &gateway.PlanError{Cause: fmt.Errorf("decode graph response: %w", err)}
	}
	return resp.Triples, nil
}

// extractEntityMentionsHeuristic is the cheap, LLM-free path for the
// search algorithm's graph pass (4.E.3 step 3, GRAPH_QUERY_EXTRACTION
// "heuristic"): capitalized tokens that are not stopwords, deduplicated.
// Grounded on KittClouds-Go-Machine-n's stopwords-filtered tokenization.
var heuristicStopwords = stopwords.MustGet("en")

func extractEntityMentionsHeuristic(query string) []string {
	var mentions []string
	seen := map[string]bool{}
	for _, word := range strings.Fields(query) {
		trimmed := strings.TrimFunc(word, func(r rune) bool { return !unicode.IsLetter(r) })
		if trimmed == "" {
			continue
		}
		if !unicode.IsUpper(rune(trimmed[0])) {
			continue
		}
		lower := strings.ToLower(trimmed)
		if heuristicStopwords.Contains(lower) {
			continue
		}
		if seen[lower] {
			continue
		}
		seen[lower] = true
		mentions = append(mentions, trimmed)
	}
	return mentions
}
