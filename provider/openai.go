package provider

import (
	"context"
	"fmt"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"nore/chat"
	"nore/mcp"
)

// OpenAIProvider talks to OpenAI's chat completions API via the
// official SDK. Any OpenAI-compatible endpoint works through baseURL.
type OpenAIProvider struct {
	client  openai.Client
	model   string
	baseURL string
	apiKey  string
}

func NewOpenAIProvider(baseURL, apiKey, model string) (*OpenAIProvider, error) {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	if apiKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}
	if model == "" {
		model = "gpt-4o-mini"
	}

	client := openai.NewClient(
		option.WithBaseURL(baseURL),
		option.WithAPIKey(apiKey),
	)

	return &OpenAIProvider{
		client:  client,
		model:   model,
		baseURL: baseURL,
		apiKey:  apiKey,
	}, nil
}

// ChatStream implements Provider.ChatStream with streaming and tool
// call accumulation.
func (p *OpenAIProvider) ChatStream(ctx context.Context, messages []chat.Message, tools []mcp.ToolDescriptor, callback StreamCallback) error {
	openaiMessages := convertToOpenAIMessages(messages)

	params := openai.ChatCompletionNewParams{
		Messages: openaiMessages,
		Model:    openai.ChatModel(p.model),
	}
	if len(tools) > 0 {
		params.Tools = mcp.ConvertToolsToOpenAI(tools)
	}

	stream := p.client.Chat.Completions.NewStreaming(ctx, params)
	acc := openai.ChatCompletionAccumulator{}

	for stream.Next() {
		chunk := stream.Current()
		acc.AddChunk(chunk)

		// Tool calls surface only once fully assembled.
		if tool, ok := acc.JustFinishedToolCall(); ok {
			if callback != nil {
				call := ToolCall{
					ID:            fmt.Sprintf("call_%d", tool.Index),
					Name:          tool.Name,
					ArgumentsJSON: tool.Arguments,
				}
				if err := callback(Delta{ToolCalls: []ToolCall{call}}); err != nil {
					return err
				}
			}
		}

		if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
			if callback != nil {
				if err := callback(Delta{Text: chunk.Choices[0].Delta.Content}); err != nil {
					return err
				}
			}
		}
	}

	if err := stream.Err(); err != nil {
		return fmt.Errorf("OpenAI streaming error: %w", err)
	}
	return nil
}

func (p *OpenAIProvider) Model() string {
	return p.model
}

func (p *OpenAIProvider) SetModel(model string) {
	p.model = model
}

// Ping checks the API key and endpoint by listing models.
func (p *OpenAIProvider) Ping(ctx context.Context) error {
	if _, err := p.client.Models.List(ctx); err != nil {
		return fmt.Errorf("OpenAI ping failed: %w", err)
	}
	return nil
}

func convertToOpenAIMessages(messages []chat.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, msg := range messages {
		content := msg.Text()
		switch msg.Role {
		case chat.RoleSystem:
			out = append(out, openai.SystemMessage(content))
		case chat.RoleAssistant:
			out = append(out, openai.AssistantMessage(content))
		case chat.RoleTool:
			// Tool results ride as user messages; the transcript keeps
			// the role distinction, the wire does not need it here.
			out = append(out, openai.UserMessage(content))
		default:
			out = append(out, openai.UserMessage(content))
		}
	}
	return out
}
