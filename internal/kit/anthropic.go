package kit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const anthropicMaxTokens = 4096

// AnthropicProvider backs the kit with Anthropic's Messages API.
type AnthropicProvider struct {
	client anthropic.Client
}

// NewAnthropicProvider builds a provider from an API key.
func NewAnthropicProvider(apiKey string) (*AnthropicProvider, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("anthropic: API key is required")
	}
	return &AnthropicProvider{client: anthropic.NewClient(option.WithAPIKey(apiKey))}, nil
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

func (p *AnthropicProvider) Models() []ModelRecord {
	return []ModelRecord{
		{
			ID:              "anthropic/claude-sonnet-4",
			Provider:        "anthropic",
			ProviderModelID: "claude-sonnet-4-20250514",
			DisplayName:     "Claude Sonnet 4",
			SupportsTools:   true,
			SupportsVision:  true,
			InputPerMTok:    3.0,
			OutputPerMTok:   15.0,
		},
		{
			ID:              "anthropic/claude-opus-4",
			Provider:        "anthropic",
			ProviderModelID: "claude-opus-4-20250514",
			DisplayName:     "Claude Opus 4",
			SupportsTools:   true,
			SupportsVision:  true,
			InputPerMTok:    15.0,
			OutputPerMTok:   75.0,
		},
		{
			ID:              "anthropic/claude-3-5-haiku",
			Provider:        "anthropic",
			ProviderModelID: "claude-3-5-haiku-20241022",
			DisplayName:     "Claude 3.5 Haiku",
			SupportsTools:   true,
			SupportsVision:  true,
			InputPerMTok:    0.8,
			OutputPerMTok:   4.0,
		},
	}
}

// Generate performs one non-streaming completion.
func (p *AnthropicProvider) Generate(ctx context.Context, in GenerateInput) (*GenerateOutput, error) {
	system, messages := p.convertMessages(in.Messages)
	maxTokens := in.MaxTokens
	if maxTokens <= 0 {
		maxTokens = anthropicMaxTokens
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(in.Model),
		Messages:  messages,
		MaxTokens: int64(maxTokens),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: system}}
	}
	if len(in.Tools) > 0 {
		tools, err := p.convertTools(in.Tools)
		if err != nil {
			return nil, err
		}
		params.Tools = tools
	}

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic: %w", err)
	}

	out := &GenerateOutput{
		FinishReason: string(msg.StopReason),
		Usage: &Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
		},
	}
	var text strings.Builder
	for _, block := range msg.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			text.WriteString(variant.Text)
		case anthropic.ToolUseBlock:
			args, err := json.Marshal(variant.Input)
			if err != nil {
				args = []byte("{}")
			}
			out.ToolCalls = append(out.ToolCalls, ToolCall{
				ID:            variant.ID,
				Name:          variant.Name,
				ArgumentsJSON: string(args),
			})
		}
	}
	out.Text = text.String()
	return out, nil
}

// convertMessages splits out the system prompt (Anthropic takes it as a
// request field) and maps the rest onto user/assistant messages. Tool
// outputs become tool_result blocks on a user message.
func (p *AnthropicProvider) convertMessages(messages []Message) (string, []anthropic.MessageParam) {
	var system strings.Builder
	var out []anthropic.MessageParam
	for _, msg := range messages {
		if msg.Role == "system" {
			for _, part := range msg.Content {
				if part.Type == "text" && part.Text != "" {
					if system.Len() > 0 {
						system.WriteString("\n\n")
					}
					system.WriteString(part.Text)
				}
			}
			continue
		}

		var blocks []anthropic.ContentBlockParamUnion
		if msg.Role == "tool" && msg.ToolCallID != "" {
			blocks = append(blocks, anthropic.NewToolResultBlock(msg.ToolCallID, textOf(msg.Content), false))
		} else {
			for _, part := range msg.Content {
				switch part.Type {
				case "text":
					if part.Text != "" {
						blocks = append(blocks, anthropic.NewTextBlock(part.Text))
					}
				case "image":
					if part.Image != nil {
						blocks = append(blocks, anthropic.NewImageBlockBase64(part.Image.MediaType, part.Image.Base64))
					}
				}
			}
		}
		if len(blocks) == 0 {
			continue
		}
		if msg.Role == "assistant" {
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		} else {
			out = append(out, anthropic.NewUserMessage(blocks...))
		}
	}
	return system.String(), out
}

func (p *AnthropicProvider) convertTools(tools []ToolDefinition) ([]anthropic.ToolUnionParam, error) {
	var out []anthropic.ToolUnionParam
	for _, tool := range tools {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(tool.Parameters, &schema); err != nil {
			return nil, fmt.Errorf("anthropic: invalid tool schema for %s: %w", tool.Name, err)
		}
		param := anthropic.ToolUnionParamOfTool(schema, tool.Name)
		if param.OfTool == nil {
			return nil, fmt.Errorf("anthropic: invalid tool schema for %s", tool.Name)
		}
		param.OfTool.Description = anthropic.String(tool.Description)
		out = append(out, param)
	}
	return out, nil
}

func textOf(parts []ContentPart) string {
	var b strings.Builder
	for _, part := range parts {
		if part.Type == "text" && part.Text != "" {
			if b.Len() > 0 {
				b.WriteString("\n")
			}
			b.WriteString(part.Text)
		}
	}
	return b.String()
}
