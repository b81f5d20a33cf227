// Package anthropic adapts Anthropic's Claude API to the agent.Agent
// contract: a pure (prompt, runContext) -> agent.Response translator, no
// orchestration logic of its own.
package anthropic

import (
	"context"
	"errors"
	"fmt"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/hensuio/hensu/agent"
)

const defaultModel = "claude-sonnet-4-5-20250929"
const defaultMaxTokens = 4096

// Agent implements agent.Agent for Claude models.
type Agent struct {
	apiKey       string
	modelName    string
	systemPrompt string
	maxTokens    int64
	client       *anthropicsdk.Client
}

// New builds an Agent. apiKey is required; modelName empty uses defaultModel.
// systemPrompt, if non-empty, is sent as Claude's separate system parameter
// on every call.
func New(apiKey, modelName, systemPrompt string) *Agent {
	if modelName == "" {
		modelName = defaultModel
	}
	client := anthropicsdk.NewClient(option.WithAPIKey(apiKey))
	return &Agent{
		apiKey:       apiKey,
		modelName:    modelName,
		systemPrompt: systemPrompt,
		maxTokens:    defaultMaxTokens,
		client:       &client,
	}
}

// Invoke implements agent.Agent. runContext is not forwarded to the API; it
// is available to callers that build prompt via workflow/template before
// calling Invoke.
func (a *Agent) Invoke(ctx context.Context, prompt string, runContext map[string]interface{}) (agent.Response, error) {
	if ctx.Err() != nil {
		return agent.Response{}, ctx.Err()
	}
	if a.apiKey == "" {
		return agent.Response{}, errMissingAPIKey
	}

	params := anthropicsdk.MessageNewParams{
		Model:     anthropicsdk.Model(a.modelName),
		MaxTokens: a.maxTokens,
		Messages: []anthropicsdk.MessageParam{
			anthropicsdk.NewUserMessage(anthropicsdk.NewTextBlock(prompt)),
		},
	}
	if a.systemPrompt != "" {
		params.System = []anthropicsdk.TextBlockParam{{Text: a.systemPrompt}}
	}

	resp, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return agent.Response{}, fmt.Errorf("anthropic: %w", err)
	}
	return convertResponse(resp), nil
}

func convertResponse(resp *anthropicsdk.Message) agent.Response {
	var text string
	for _, block := range resp.Content {
		if b, ok := block.AsAny().(anthropicsdk.TextBlock); ok {
			if text != "" {
				text += "\n"
			}
			text += b.Text
		}
	}
	return agent.Response{
		Text:     text,
		Metadata: map[string]interface{}{"model": resp.Model, "stopReason": resp.StopReason},
	}
}

var errMissingAPIKey = errors.New("anthropic: API key is required")
