// Copyright 2026 © The Argo Authors
// SPDX-License-Identifier: Apache-2.0

// Package gemini provides a Google Gemini API provider.
package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/jllopis/argo/pkg/llm"
)

// DefaultModel is used when neither the provider nor the request names one.
const DefaultModel = "gemini-2.5-flash"

// Provider implements llm.StreamingProvider for the Gemini API.
type Provider struct {
	client *genai.Client
	model  string
}

// Option configures the Provider.
type Option func(*Provider)

// WithModel sets the default model.
func WithModel(model string) Option {
	return func(p *Provider) {
		if model != "" {
			p.model = model
		}
	}
}

// New creates a new Gemini provider.
// The API key is read from GOOGLE_API_KEY or GEMINI_API_KEY.
func New(ctx context.Context, opts ...Option) (*Provider, error) {
	return NewWithAPIKey(ctx, "", opts...)
}

// NewWithAPIKey creates a new Gemini provider with an explicit API key.
func NewWithAPIKey(ctx context.Context, apiKey string, opts ...Option) (*Provider, error) {
	var cfg *genai.ClientConfig
	if apiKey != "" {
		cfg = &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI}
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	p := &Provider{client: client, model: DefaultModel}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Chat implements llm.Provider.
func (p *Provider) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	contents, config := buildRequest(req)
	resp, err := p.client.Models.GenerateContent(ctx, p.modelFor(req), contents, config)
	if err != nil {
		return nil, fmt.Errorf("gemini generate content failed: %w", err)
	}
	chunk := convertResponse(resp)
	return &llm.ChatResponse{Content: chunk.Content, ToolCalls: chunk.ToolCalls, Usage: usageOf(chunk)}, nil
}

// ChatStream implements llm.StreamingProvider.
func (p *Provider) ChatStream(ctx context.Context, req llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	contents, config := buildRequest(req)
	model := p.modelFor(req)

	chunks := make(chan llm.StreamChunk, 100)
	go func() {
		defer close(chunks)
		send := func(c llm.StreamChunk) bool {
			select {
			case chunks <- c:
				return true
			case <-ctx.Done():
				return false
			}
		}
		for resp, err := range p.client.Models.GenerateContentStream(ctx, model, contents, config) {
			if err != nil {
				send(llm.StreamChunk{Error: err})
				return
			}
			chunk := convertResponse(resp)
			if !send(chunk) || chunk.Done {
				return
			}
		}
		send(llm.StreamChunk{Done: true})
	}()
	return chunks, nil
}

// Close is a no-op; the Gemini client holds no connections to release.
func (p *Provider) Close() error {
	return nil
}

func (p *Provider) modelFor(req llm.ChatRequest) string {
	if req.Model != "" {
		return req.Model
	}
	return p.model
}

func buildRequest(req llm.ChatRequest) ([]*genai.Content, *genai.GenerateContentConfig) {
	contents, systemInstruction := convertMessages(req.Messages)
	config := &genai.GenerateContentConfig{}
	if systemInstruction != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: systemInstruction}},
		}
	}
	if req.Temperature > 0 {
		temp := float32(req.Temperature)
		config.Temperature = &temp
	}
	if req.JSON {
		config.ResponseMIMEType = "application/json"
	}
	if len(req.Tools) > 0 {
		config.Tools = []*genai.Tool{
			{FunctionDeclarations: convertTools(req.Tools)},
		}
	}
	return contents, config
}

// convertMessages splits out the system instruction. System messages are
// joined in order.
func convertMessages(messages []llm.Message) ([]*genai.Content, string) {
	var system []string
	contents := make([]*genai.Content, 0, len(messages))

	for _, msg := range messages {
		switch msg.Role {
		case llm.RoleSystem:
			system = append(system, msg.Content)
		case llm.RoleUser:
			contents = append(contents, &genai.Content{
				Role:  "user",
				Parts: []*genai.Part{{Text: msg.Content}},
			})
		case llm.RoleAssistant:
			content := &genai.Content{Role: "model"}
			if msg.Content != "" {
				content.Parts = append(content.Parts, &genai.Part{Text: msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				var args map[string]interface{}
				_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)
				content.Parts = append(content.Parts, &genai.Part{
					FunctionCall: &genai.FunctionCall{Name: tc.Function.Name, Args: args},
				})
			}
			contents = append(contents, content)
		case llm.RoleTool:
			var result map[string]interface{}
			if err := json.Unmarshal([]byte(msg.Content), &result); err != nil {
				result = map[string]interface{}{"result": msg.Content}
			}
			// Gemini matches responses by function name, kept in ToolCallID.
			contents = append(contents, &genai.Content{
				Role: "user",
				Parts: []*genai.Part{{
					FunctionResponse: &genai.FunctionResponse{Name: msg.ToolCallID, Response: result},
				}},
			})
		}
	}
	return contents, strings.Join(system, "\n\n")
}

func convertTools(tools []llm.Tool) []*genai.FunctionDeclaration {
	declarations := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, tool := range tools {
		paramsJSON, _ := json.Marshal(tool.Function.Parameters)
		var schema *genai.Schema
		_ = json.Unmarshal(paramsJSON, &schema)

		declarations = append(declarations, &genai.FunctionDeclaration{
			Name:        tool.Function.Name,
			Description: tool.Function.Description,
			Parameters:  schema,
		})
	}
	return declarations
}

func convertResponse(resp *genai.GenerateContentResponse) llm.StreamChunk {
	var chunk llm.StreamChunk
	if resp == nil {
		return chunk
	}
	if resp.UsageMetadata != nil {
		chunk.Usage = &llm.Usage{
			PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:      int(resp.UsageMetadata.TotalTokenCount),
		}
	}
	if len(resp.Candidates) == 0 {
		return chunk
	}
	candidate := resp.Candidates[0]
	if candidate.Content != nil {
		for _, part := range candidate.Content.Parts {
			chunk.Content += part.Text
			if part.FunctionCall != nil {
				argsJSON, _ := json.Marshal(part.FunctionCall.Args)
				chunk.ToolCalls = append(chunk.ToolCalls, llm.ToolCall{
					ID:   part.FunctionCall.Name,
					Type: llm.ToolTypeFunction,
					Function: llm.FunctionCall{
						Name:      part.FunctionCall.Name,
						Arguments: string(argsJSON),
					},
				})
			}
		}
	}
	chunk.Done = candidate.FinishReason != ""
	return chunk
}

func usageOf(chunk llm.StreamChunk) llm.Usage {
	if chunk.Usage == nil {
		return llm.Usage{}
	}
	return *chunk.Usage
}

var _ llm.StreamingProvider = (*Provider)(nil)
