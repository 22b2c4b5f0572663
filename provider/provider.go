// Package provider abstracts the model backends. Each provider speaks
// its vendor's streaming API and reports back through one callback
// shape, so the generation side never sees vendor types.
package provider

import (
	"context"

	"nore/chat"
	"nore/mcp"
)

// ToolCall is a provider-agnostic tool invocation request emitted by a
// model. ArgumentsJSON is the raw argument object as JSON text.
type ToolCall struct {
	ID            string
	Name          string
	ArgumentsJSON string
}

// Delta is one streamed increment: prose, reasoning, or finished tool
// calls. Fields may be empty; a delta carrying nothing is not sent.
type Delta struct {
	Text      string
	Reasoning string
	ToolCalls []ToolCall
}

// StreamCallback receives each delta in stream order. Returning an
// error aborts the stream.
type StreamCallback func(Delta) error

// Provider is one model backend.
type Provider interface {
	// ChatStream sends the conversation and streams the response
	// through callback until the turn completes.
	ChatStream(ctx context.Context, messages []chat.Message, tools []mcp.ToolDescriptor, callback StreamCallback) error

	// Model returns the active model name.
	Model() string

	// SetModel changes the model for subsequent calls.
	SetModel(model string)
}
