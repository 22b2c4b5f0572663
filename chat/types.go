package chat

import "time"

// Part types a message's content can be assembled from.
const (
	PartText       = "text"
	PartReasoning  = "reasoning"
	PartToolCall   = "tool-call"
	PartToolResult = "tool-result"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
	RoleTool      = "tool"
)

// ContentPart is one typed segment of a message body. Text parts carry
// prose; tool parts carry the call/result pair that produced it.
type ContentPart struct {
	Type       string `json:"type"`
	Text       string `json:"text,omitempty"`
	ToolCallID string `json:"toolCallId,omitempty"`
	ToolName   string `json:"toolName,omitempty"`
	Arguments  string `json:"arguments,omitempty"`
	Result     string `json:"result,omitempty"`
	IsError    bool   `json:"isError,omitempty"`
}

// Message is one turn in a conversation.
type Message struct {
	ID           string        `json:"id"`
	Role         string        `json:"role"`
	ContentParts []ContentPart `json:"contentParts"`
	Timestamp    time.Time     `json:"timestamp"`
	Model        string        `json:"model,omitempty"`
	ContextRefs  []string      `json:"contextRefs,omitempty"`
}

// Text returns the concatenated text parts of the message.
func (m Message) Text() string {
	var out string
	for _, part := range m.ContentParts {
		if part.Type == PartText {
			out += part.Text
		}
	}
	return out
}

// Chat is one conversation with its full message history.
type Chat struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// TextMessage builds a single-part text message.
func TextMessage(id, role, text string) Message {
	return Message{
		ID:           id,
		Role:         role,
		ContentParts: []ContentPart{{Type: PartText, Text: text}},
		Timestamp:    time.Now(),
	}
}
