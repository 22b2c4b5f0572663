package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/ollama/ollama/api"

	"nore/chat"
	"nore/mcp"
)

// OllamaProvider talks to a local or remote Ollama server through the
// official api client.
type OllamaProvider struct {
	client  *api.Client
	model   string
	baseURL string
}

func NewOllamaProvider(baseURL, model string) (*OllamaProvider, error) {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		model = "llama3.1:latest"
	}

	parsedURL, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid Ollama URL: %w", err)
	}

	return &OllamaProvider{
		client:  api.NewClient(parsedURL, http.DefaultClient),
		model:   model,
		baseURL: baseURL,
	}, nil
}

// ChatStream implements Provider.ChatStream over Ollama's streaming
// chat endpoint.
func (p *OllamaProvider) ChatStream(ctx context.Context, messages []chat.Message, tools []mcp.ToolDescriptor, callback StreamCallback) error {
	ollamaMessages := make([]api.Message, 0, len(messages))
	for _, msg := range messages {
		ollamaMessages = append(ollamaMessages, api.Message{
			Role:    msg.Role,
			Content: msg.Text(),
		})
	}

	var ollamaTools []api.Tool
	if len(tools) > 0 {
		ollamaTools = mcp.ConvertToolsToOllama(tools)
	}

	req := &api.ChatRequest{
		Model:    p.model,
		Messages: ollamaMessages,
		Tools:    ollamaTools,
		Stream:   func(b bool) *bool { return &b }(true),
	}

	respFunc := func(resp api.ChatResponse) error {
		if callback == nil {
			return nil
		}

		delta := Delta{
			Text:      resp.Message.Content,
			Reasoning: resp.Message.Thinking,
		}
		for _, call := range resp.Message.ToolCalls {
			argsJSON, err := json.Marshal(map[string]any(call.Function.Arguments))
			if err != nil {
				continue
			}
			delta.ToolCalls = append(delta.ToolCalls, ToolCall{
				ID:            uuid.New().String(),
				Name:          call.Function.Name,
				ArgumentsJSON: string(argsJSON),
			})
		}

		if delta.Text == "" && delta.Reasoning == "" && len(delta.ToolCalls) == 0 {
			return nil
		}
		return callback(delta)
	}

	if err := p.client.Chat(ctx, req, respFunc); err != nil {
		return fmt.Errorf("Ollama streaming error: %w", err)
	}
	return nil
}

// ListModels returns the models available on the Ollama server.
func (p *OllamaProvider) ListModels(ctx context.Context) ([]string, error) {
	resp, err := p.client.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list models: %w", err)
	}

	models := make([]string, len(resp.Models))
	for i, m := range resp.Models {
		models[i] = m.Name
	}
	return models, nil
}

func (p *OllamaProvider) Model() string {
	return p.model
}

func (p *OllamaProvider) SetModel(model string) {
	p.model = model
}

// Ping checks that the Ollama server is reachable.
func (p *OllamaProvider) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := p.client.List(ctx)
	return err
}
