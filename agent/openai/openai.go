// Package openai adapts OpenAI's chat completions API to the agent.Agent
// contract: a pure (prompt, runContext) -> agent.Response translator, no
// orchestration logic of its own.
package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/hensuio/hensu/agent"
)

const defaultModel = "gpt-4o"

// Agent implements agent.Agent for OpenAI chat models, with bounded retry
// on transient errors (network, 5xx, rate limit).
type Agent struct {
	apiKey       string
	modelName    string
	systemPrompt string
	client       openaisdk.Client
	maxRetries   int
	retryDelay   time.Duration
}

// New builds an Agent. apiKey is required; modelName empty uses
// defaultModel. systemPrompt, if non-empty, is sent as a leading system
// message on every call.
func New(apiKey, modelName, systemPrompt string) *Agent {
	if modelName == "" {
		modelName = defaultModel
	}
	return &Agent{
		apiKey:       apiKey,
		modelName:    modelName,
		systemPrompt: systemPrompt,
		client:       openaisdk.NewClient(option.WithAPIKey(apiKey)),
		maxRetries:   3,
		retryDelay:   time.Second,
	}
}

// Invoke implements agent.Agent.
func (a *Agent) Invoke(ctx context.Context, prompt string, runContext map[string]interface{}) (agent.Response, error) {
	if ctx.Err() != nil {
		return agent.Response{}, ctx.Err()
	}
	if a.apiKey == "" {
		return agent.Response{}, errors.New("openai: API key is required")
	}

	messages := make([]openaisdk.ChatCompletionMessageParamUnion, 0, 2)
	if a.systemPrompt != "" {
		messages = append(messages, openaisdk.SystemMessage(a.systemPrompt))
	}
	messages = append(messages, openaisdk.UserMessage(prompt))

	params := openaisdk.ChatCompletionNewParams{
		Model:    openaisdk.ChatModel(a.modelName),
		Messages: messages,
	}

	var lastErr error
	for attempt := 0; attempt <= a.maxRetries; attempt++ {
		resp, err := a.client.Chat.Completions.New(ctx, params)
		if err == nil {
			return convertResponse(resp), nil
		}
		lastErr = err
		if !isTransient(err) {
			return agent.Response{}, fmt.Errorf("openai: %w", err)
		}
		if attempt >= a.maxRetries {
			break
		}
		select {
		case <-time.After(a.retryDelay * time.Duration(attempt+1)):
		case <-ctx.Done():
			return agent.Response{}, ctx.Err()
		}
	}
	return agent.Response{}, fmt.Errorf("openai: failed after %d retries: %w", a.maxRetries, lastErr)
}

func isTransient(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, pattern := range []string{"timeout", "connection", "temporary", "rate_limit", "503", "502", "500"} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

func convertResponse(resp *openaisdk.ChatCompletion) agent.Response {
	if len(resp.Choices) == 0 {
		return agent.Response{}
	}
	choice := resp.Choices[0]
	return agent.Response{
		Text:     choice.Message.Content,
		Metadata: map[string]interface{}{"model": resp.Model, "finishReason": choice.FinishReason},
	}
}
