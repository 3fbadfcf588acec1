// Package kit abstracts model providers behind a single generate API.
// A Kit owns one provider per name (anthropic, openai) and exposes the
// union of their model catalogs; the Router picks a concrete model from
// that catalog under policy constraints.
package kit

import (
	"context"
	"encoding/json"
)

// ContentPart is one block of a message: text or an inline image.
type ContentPart struct {
	Type  string     `json:"type"`
	Text  string     `json:"text,omitempty"`
	Image *ImageData `json:"image,omitempty"`
}

// ImageData carries a base64-encoded inline image.
type ImageData struct {
	Base64    string `json:"base64"`
	MediaType string `json:"media_type"`
}

// Message is one provider-neutral conversation entry.
type Message struct {
	Role       string        `json:"role"`
	Content    []ContentPart `json:"content"`
	ToolCallID string        `json:"tool_call_id,omitempty"`
}

// ToolDefinition describes a callable tool in provider-neutral form.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// ToolCall is a model's request to invoke a tool.
type ToolCall struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	ArgumentsJSON string `json:"arguments_json"`
}

// Usage reports token consumption for one generation.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Cost is the estimated USD spend for one generation. Fields are nil
// when pricing is unknown.
type Cost struct {
	InputCostUSD  *float64 `json:"input_cost_usd,omitempty"`
	OutputCostUSD *float64 `json:"output_cost_usd,omitempty"`
	TotalCostUSD  *float64 `json:"total_cost_usd,omitempty"`
}

// GenerateInput is a single non-streaming generation request.
type GenerateInput struct {
	Provider  string
	Model     string
	Messages  []Message
	Tools     []ToolDefinition
	MaxTokens int
}

// GenerateOutput is the assistant's reply: text, tool calls, or both.
type GenerateOutput struct {
	Text         string
	ToolCalls    []ToolCall
	FinishReason string
	Usage        *Usage
	Cost         *Cost
}

// ModelRecord describes one routable model.
type ModelRecord struct {
	ID              string  `json:"id"`
	Provider        string  `json:"provider"`
	ProviderModelID string  `json:"provider_model_id"`
	DisplayName     string  `json:"display_name,omitempty"`
	SupportsTools   bool    `json:"supports_tools"`
	SupportsVision  bool    `json:"supports_vision"`
	InputPerMTok    float64 `json:"input_per_mtok,omitempty"`
	OutputPerMTok   float64 `json:"output_per_mtok,omitempty"`
}

// Provider is a model backend.
type Provider interface {
	Name() string
	Models() []ModelRecord
	Generate(ctx context.Context, in GenerateInput) (*GenerateOutput, error)
}
