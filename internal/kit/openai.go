package kit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIProvider backs the kit with OpenAI's chat completions API.
type OpenAIProvider struct {
	client *openai.Client
}

// NewOpenAIProvider builds a provider from an API key.
func NewOpenAIProvider(apiKey string) (*OpenAIProvider, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("openai: API key is required")
	}
	return &OpenAIProvider{client: openai.NewClient(apiKey)}, nil
}

func (p *OpenAIProvider) Name() string { return "openai" }

func (p *OpenAIProvider) Models() []ModelRecord {
	return []ModelRecord{
		{
			ID:              "openai/gpt-4o",
			Provider:        "openai",
			ProviderModelID: "gpt-4o",
			DisplayName:     "GPT-4o",
			SupportsTools:   true,
			SupportsVision:  true,
			InputPerMTok:    2.5,
			OutputPerMTok:   10.0,
		},
		{
			ID:              "openai/gpt-4o-mini",
			Provider:        "openai",
			ProviderModelID: "gpt-4o-mini",
			DisplayName:     "GPT-4o mini",
			SupportsTools:   true,
			SupportsVision:  true,
			InputPerMTok:    0.15,
			OutputPerMTok:   0.6,
		},
		{
			ID:              "openai/gpt-4.1",
			Provider:        "openai",
			ProviderModelID: "gpt-4.1",
			DisplayName:     "GPT-4.1",
			SupportsTools:   true,
			SupportsVision:  true,
			InputPerMTok:    2.0,
			OutputPerMTok:   8.0,
		},
	}
}

// Generate performs one non-streaming chat completion.
func (p *OpenAIProvider) Generate(ctx context.Context, in GenerateInput) (*GenerateOutput, error) {
	req := openai.ChatCompletionRequest{
		Model:    in.Model,
		Messages: p.convertMessages(in.Messages),
	}
	if in.MaxTokens > 0 {
		req.MaxTokens = in.MaxTokens
	}
	for _, tool := range in.Tools {
		req.Tools = append(req.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  json.RawMessage(tool.Parameters),
			},
		})
	}

	resp, err := p.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("openai: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai: empty response")
	}
	choice := resp.Choices[0]
	out := &GenerateOutput{
		Text:         choice.Message.Content,
		FinishReason: string(choice.FinishReason),
		Usage: &Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}
	for _, call := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			ID:            call.ID,
			Name:          call.Function.Name,
			ArgumentsJSON: call.Function.Arguments,
		})
	}
	return out, nil
}

func (p *OpenAIProvider) convertMessages(messages []Message) []openai.ChatCompletionMessage {
	var out []openai.ChatCompletionMessage
	for _, msg := range messages {
		switch msg.Role {
		case "system":
			if text := textOf(msg.Content); text != "" {
				out = append(out, openai.ChatCompletionMessage{
					Role:    openai.ChatMessageRoleSystem,
					Content: text,
				})
			}
		case "tool":
			out = append(out, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    textOf(msg.Content),
				ToolCallID: msg.ToolCallID,
			})
		default:
			role := openai.ChatMessageRoleUser
			if msg.Role == "assistant" {
				role = openai.ChatMessageRoleAssistant
			}
			if hasImages(msg.Content) {
				var parts []openai.ChatMessagePart
				for _, part := range msg.Content {
					switch part.Type {
					case "text":
						if part.Text != "" {
							parts = append(parts, openai.ChatMessagePart{
								Type: openai.ChatMessagePartTypeText,
								Text: part.Text,
							})
						}
					case "image":
						if part.Image != nil {
							parts = append(parts, openai.ChatMessagePart{
								Type: openai.ChatMessagePartTypeImageURL,
								ImageURL: &openai.ChatMessageImageURL{
									URL:    fmt.Sprintf("data:%s;base64,%s", part.Image.MediaType, part.Image.Base64),
									Detail: openai.ImageURLDetailAuto,
								},
							})
						}
					}
				}
				if len(parts) > 0 {
					out = append(out, openai.ChatCompletionMessage{Role: role, MultiContent: parts})
				}
				continue
			}
			if text := textOf(msg.Content); text != "" {
				out = append(out, openai.ChatCompletionMessage{Role: role, Content: text})
			}
		}
	}
	return out
}

func hasImages(parts []ContentPart) bool {
	for _, part := range parts {
		if part.Type == "image" && part.Image != nil {
			return true
		}
	}
	return false
}
