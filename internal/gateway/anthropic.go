// Copyright (C) 2025-2026 Kraklabs. All rights reserved.
// Use of this source code is governed by the AGPL-3.0
// license that can be found in the LICENSE file.

package gateway

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicPlanProvider implements PlanProvider over the Anthropic Messages
// API, used for both the fact-extraction and reconcile prompts (4.E.2).
// schema is embedded into the prompt as an instruction rather than as a
// provider-native structured-output mode, since the corpus's SDK version
// does not expose tool-forced JSON output for this call shape.
type AnthropicPlanProvider struct {
	client anthropic.Client
	model  anthropic.Model
}

// NewAnthropicPlanProvider constructs a provider using apiKey and model
// (e.g. anthropic.ModelClaude3_5SonnetLatest).
func NewAnthropicPlanProvider(apiKey string, model anthropic.Model) *AnthropicPlanProvider {
	return &AnthropicPlanProvider{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

func (p *AnthropicPlanProvider) Complete(ctx context.Context, prompt string, schema json.RawMessage) (json.RawMessage, error) {
	fullPrompt := prompt
	if len(schema) > 0 {
		fullPrompt = fmt.Sprintf("%s\n\nRespond with JSON matching this schema, and nothing else:\n%s", prompt, string(schema))
	}

	msg, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     p.model,
		MaxTokens: 2048,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(fullPrompt)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("anthropic: complete: %w", err)
	}

	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	if text == "" {
		return nil, fmt.Errorf("anthropic: empty response")
	}
	return json.RawMessage(text), nil
}
