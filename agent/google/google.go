// Package google adapts Google's Gemini API to the agent.Agent contract: a
// pure (prompt, runContext) -> agent.Response translator, no orchestration
// logic of its own.
package google

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/hensuio/hensu/agent"
)

const defaultModel = "gemini-2.5-flash"

// Agent implements agent.Agent for Gemini models. A fresh genai.Client is
// created per Invoke call and closed before returning, mirroring the
// request-scoped client lifecycle the genai SDK expects.
type Agent struct {
	apiKey       string
	modelName    string
	systemPrompt string
}

// New builds an Agent. apiKey is required; modelName empty uses
// defaultModel. systemPrompt, if non-empty, is set as the model's
// SystemInstruction on every call.
func New(apiKey, modelName, systemPrompt string) *Agent {
	if modelName == "" {
		modelName = defaultModel
	}
	return &Agent{apiKey: apiKey, modelName: modelName, systemPrompt: systemPrompt}
}

// Invoke implements agent.Agent.
func (a *Agent) Invoke(ctx context.Context, prompt string, runContext map[string]interface{}) (agent.Response, error) {
	if ctx.Err() != nil {
		return agent.Response{}, ctx.Err()
	}
	if a.apiKey == "" {
		return agent.Response{}, errors.New("google: API key is required")
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(a.apiKey))
	if err != nil {
		return agent.Response{}, fmt.Errorf("google: creating client: %w", err)
	}
	defer client.Close()

	genModel := client.GenerativeModel(a.modelName)
	if a.systemPrompt != "" {
		genModel.SystemInstruction = genai.NewUserContent(genai.Text(a.systemPrompt))
	}

	resp, err := genModel.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		var safetyErr *SafetyFilterError
		if errors.As(err, &safetyErr) {
			return agent.Response{}, safetyErr
		}
		return agent.Response{}, fmt.Errorf("google: %w", err)
	}
	return convertResponse(resp, a.modelName), nil
}

func convertResponse(resp *genai.GenerateContentResponse, modelName string) agent.Response {
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return agent.Response{}
	}
	var text string
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			if text != "" {
				text += "\n"
			}
			text += string(t)
		}
	}
	return agent.Response{Text: text, Metadata: map[string]interface{}{"model": modelName}}
}

// SafetyFilterError represents a Gemini safety filter block.
type SafetyFilterError struct {
	Category string
}

func (e *SafetyFilterError) Error() string {
	return "content blocked by safety filter: " + e.Category
}
