package testutil

import (
	"context"

	"nore/chat"
	"nore/mcp"
	"nore/provider"
)

// MockProvider implements provider.Provider for testing.
type MockProvider struct {
	// ChatStreamFunc is the configurable stream behavior.
	ChatStreamFunc func(ctx context.Context, messages []chat.Message, tools []mcp.ToolDescriptor, callback provider.StreamCallback) error

	// Calls records each message slice passed to ChatStream, in order.
	Calls [][]chat.Message

	currentModel string
}

// NewMockProvider creates a mock that streams one fixed text delta.
func NewMockProvider(modelName string) *MockProvider {
	mock := &MockProvider{currentModel: modelName}
	mock.ChatStreamFunc = mock.defaultChatStream
	return mock
}

func (m *MockProvider) defaultChatStream(ctx context.Context, messages []chat.Message, tools []mcp.ToolDescriptor, callback provider.StreamCallback) error {
	if callback != nil {
		return callback(provider.Delta{Text: "Mock response"})
	}
	return nil
}

func (m *MockProvider) ChatStream(ctx context.Context, messages []chat.Message, tools []mcp.ToolDescriptor, callback provider.StreamCallback) error {
	m.Calls = append(m.Calls, messages)
	return m.ChatStreamFunc(ctx, messages, tools, callback)
}

func (m *MockProvider) Model() string {
	return m.currentModel
}

func (m *MockProvider) SetModel(model string) {
	m.currentModel = model
}
