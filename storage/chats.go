package storage

import (
	"encoding/json"
	"fmt"

	"nore/chat"
)

const (
	chatsBucket = "chats"
	chatsKey    = "snapshot"
)

// chatSnapshot is the persisted shape: the full conversation list plus
// the current selection, written as one document so a commit is atomic.
type chatSnapshot struct {
	Chats     []chat.Chat `json:"chats"`
	CurrentID string      `json:"currentId"`
}

// ChatPersister stores the conversation list. It implements
// chat.Persister.
type ChatPersister struct {
	store *Store
}

func NewChatPersister(store *Store) *ChatPersister {
	return &ChatPersister{store: store}
}

// SaveChats writes the full conversation state as one document.
func (p *ChatPersister) SaveChats(chats []chat.Chat, currentID string) error {
	snapshot := chatSnapshot{Chats: chats, CurrentID: currentID}
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal conversations: %w", err)
	}
	return p.store.Put(chatsBucket, chatsKey, string(data))
}

// LoadChats reads the persisted conversation state. A fresh database
// yields an empty list and no selection.
func (p *ChatPersister) LoadChats() ([]chat.Chat, string, error) {
	data, ok, err := p.store.Get(chatsBucket, chatsKey)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read conversations: %w", err)
	}
	if !ok {
		return nil, "", nil
	}

	var snapshot chatSnapshot
	if err := json.Unmarshal([]byte(data), &snapshot); err != nil {
		return nil, "", fmt.Errorf("failed to parse conversations: %w", err)
	}
	return snapshot.Chats, snapshot.CurrentID, nil
}
