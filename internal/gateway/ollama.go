// Copyright (C) 2025-2026 Kraklabs. All rights reserved.
// Use of this source code is governed by the AGPL-3.0
// license that can be found in the LICENSE file.

package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// OllamaEmbedProvider calls a local Ollama-compatible embeddings endpoint,
// the teacher's own default embedding provider (nomic-embed-text, 768
// dimensions). Ollama has no official Go SDK anywhere in the example
// corpus, so the HTTP client is hand-rolled in the teacher's own idiom
// (a single shared *http.Client, JSON in, JSON out).
type OllamaEmbedProvider struct {
	baseURL    string
	model      string
	dimensions int
	client     *http.Client
}

// NewOllamaEmbedProvider constructs a provider pointed at baseURL (e.g.
// http://localhost:11434) using model, expecting dimensions-length vectors.
func NewOllamaEmbedProvider(baseURL, model string, dimensions int) *OllamaEmbedProvider {
	return &OllamaEmbedProvider{
		baseURL:    baseURL,
		model:      model,
		dimensions: dimensions,
		client: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
			},
		},
	}
}

func (p *OllamaEmbedProvider) Dimensions() int { return p.dimensions }

type ollamaEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResponse struct {
	Embedding []float32 `json:"embedding"`
}

func (p *OllamaEmbedProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(ollamaEmbedRequest{Model: p.model, Prompt: text})
	if err != nil {
		return nil, fmt.Errorf("ollama: marshal request: %w", err)
	}

	// The 30s budget on p.client already bounds the full round trip
	// (connect + response body read); layering a shorter per-call context
	// timeout here would just override it with an unrelated, much
	// tighter deadline. The caller's ctx still applies for cancellation.
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("ollama: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ollama: unexpected status %d", resp.StatusCode)
	}

	var out ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("ollama: decode response: %w", err)
	}
	if len(out.Embedding) != p.dimensions {
		return nil, fmt.Errorf("ollama: expected %d dimensions, got %d", p.dimensions, len(out.Embedding))
	}
	return out.Embedding, nil
}
