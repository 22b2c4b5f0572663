package chat

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"nore/config"
	"nore/events"
)

// Persister receives the full conversation list after each committed
// mutation. A mutation commits exactly once, however many fields it
// touched.
type Persister interface {
	SaveChats(chats []Chat, currentID string) error
}

// Store holds every conversation, most recently active first, plus the
// current selection. All methods are safe for concurrent use.
type Store struct {
	mu        sync.RWMutex
	chats     []Chat
	currentID string

	// lastContent and lastReasoning remember the most recent streamed
	// content per message so a redundant update is recognized and
	// skipped without touching the chat list or the persister.
	lastContent   map[string]string
	lastReasoning map[string]string

	persister Persister
	bus       *events.Bus
}

func NewStore(persister Persister, bus *events.Bus) *Store {
	return &Store{
		lastContent:   make(map[string]string),
		lastReasoning: make(map[string]string),
		persister:     persister,
		bus:           bus,
	}
}

// Rehydrate loads persisted conversations. Messages missing timestamps
// get defaults so ordering stays total; a stale selection falls back to
// the first chat.
func (s *Store) Rehydrate(chats []Chat, currentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	s.chats = make([]Chat, len(chats))
	for i, c := range chats {
		if c.CreatedAt.IsZero() {
			c.CreatedAt = now
		}
		if c.UpdatedAt.IsZero() {
			c.UpdatedAt = c.CreatedAt
		}
		for j := range c.Messages {
			if c.Messages[j].Timestamp.IsZero() {
				c.Messages[j].Timestamp = c.CreatedAt
			}
		}
		s.chats[i] = cloneChat(c)
	}

	s.currentID = ""
	for _, c := range s.chats {
		if c.ID == currentID {
			s.currentID = currentID
			break
		}
	}
	if s.currentID == "" && len(s.chats) > 0 {
		s.currentID = s.chats[0].ID
	}
}

// CreateChat adds a new empty conversation at the front of the list and
// selects it.
func (s *Store) CreateChat(title string) Chat {
	s.mu.Lock()

	now := time.Now()
	c := Chat{
		ID:        uuid.New().String(),
		Title:     title,
		Messages:  []Message{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.chats = append([]Chat{c}, s.chats...)
	s.currentID = c.ID
	s.commitLocked(c.ID)
	s.mu.Unlock()

	return cloneChat(c)
}

// OpenChat selects an existing conversation. Selection alone does not
// change list order.
func (s *Store) OpenChat(id string) error {
	s.mu.Lock()

	if s.indexLocked(id) < 0 {
		s.mu.Unlock()
		return fmt.Errorf("chat %s: %w", id, ErrChatNotFound)
	}
	if s.currentID == id {
		s.mu.Unlock()
		return nil
	}
	s.currentID = id
	s.commitLocked(id)
	s.mu.Unlock()

	return nil
}

// AddMessage appends a message to a chat and moves that chat to the
// front of the list. Missing ID and timestamp are filled in.
func (s *Store) AddMessage(chatID string, msg Message) (Message, error) {
	s.mu.Lock()

	idx := s.indexLocked(chatID)
	if idx < 0 {
		s.mu.Unlock()
		return Message{}, fmt.Errorf("chat %s: %w", chatID, ErrChatNotFound)
	}

	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	if msg.ContentParts == nil {
		msg.ContentParts = []ContentPart{}
	}

	c := s.chats[idx]
	c.Messages = append(c.Messages, cloneMessage(msg))
	c.UpdatedAt = time.Now()

	// Most recently active first.
	s.chats = append(s.chats[:idx], s.chats[idx+1:]...)
	s.chats = append([]Chat{c}, s.chats...)
	s.commitLocked(chatID)
	s.mu.Unlock()

	return msg, nil
}

// UpdateMessageContent replaces the text part in the message's trailing
// run of streamed parts with content, appending one when the run has no
// text yet. Delivering the same content twice is a no-op: nothing
// changes and nothing is persisted.
func (s *Store) UpdateMessageContent(chatID, messageID, content string) error {
	return s.updateTrailingPart(chatID, messageID, content, PartText, s.lastContent)
}

// UpdateMessageReasoning is UpdateMessageContent for the reasoning part
// of the trailing run. Reasoning and text stream independently into the
// same run.
func (s *Store) UpdateMessageReasoning(chatID, messageID, content string) error {
	return s.updateTrailingPart(chatID, messageID, content, PartReasoning, s.lastReasoning)
}

func (s *Store) updateTrailingPart(chatID, messageID, content, partType string, cache map[string]string) error {
	s.mu.Lock()

	idx := s.indexLocked(chatID)
	if idx < 0 {
		s.mu.Unlock()
		return fmt.Errorf("chat %s: %w", chatID, ErrChatNotFound)
	}
	msg := s.messageLocked(idx, messageID)
	if msg == nil {
		s.mu.Unlock()
		return fmt.Errorf("message %s: %w", messageID, ErrMessageNotFound)
	}

	if last, ok := cache[messageID]; ok && last == content {
		s.mu.Unlock()
		return nil
	}

	// The update targets the trailing run of streamed parts: text and
	// reasoning from the same round share that run, while a tool part
	// ends it and forces a fresh part afterwards.
	updated := false
	for i := len(msg.ContentParts) - 1; i >= 0; i-- {
		t := msg.ContentParts[i].Type
		if t != PartText && t != PartReasoning {
			break
		}
		if t == partType {
			msg.ContentParts[i].Text = content
			updated = true
			break
		}
	}
	if !updated {
		msg.ContentParts = append(msg.ContentParts, ContentPart{Type: partType, Text: content})
	}
	cache[messageID] = content
	s.chats[idx].UpdatedAt = time.Now()
	s.commitLocked(chatID)
	s.mu.Unlock()

	return nil
}

// AppendMessageParts appends typed parts (tool calls, tool results) to
// a message.
func (s *Store) AppendMessageParts(chatID, messageID string, parts ...ContentPart) error {
	s.mu.Lock()

	idx := s.indexLocked(chatID)
	if idx < 0 {
		s.mu.Unlock()
		return fmt.Errorf("chat %s: %w", chatID, ErrChatNotFound)
	}
	msg := s.messageLocked(idx, messageID)
	if msg == nil {
		s.mu.Unlock()
		return fmt.Errorf("message %s: %w", messageID, ErrMessageNotFound)
	}

	msg.ContentParts = append(msg.ContentParts, parts...)
	// Content after the appended parts no longer matches the caches.
	s.forgetLocked(messageID)
	s.chats[idx].UpdatedAt = time.Now()
	s.commitLocked(chatID)
	s.mu.Unlock()

	return nil
}

// EditMessage replaces a message's body with a single text part.
func (s *Store) EditMessage(chatID, messageID, text string) error {
	s.mu.Lock()

	idx := s.indexLocked(chatID)
	if idx < 0 {
		s.mu.Unlock()
		return fmt.Errorf("chat %s: %w", chatID, ErrChatNotFound)
	}
	msg := s.messageLocked(idx, messageID)
	if msg == nil {
		s.mu.Unlock()
		return fmt.Errorf("message %s: %w", messageID, ErrMessageNotFound)
	}

	msg.ContentParts = []ContentPart{{Type: PartText, Text: text}}
	s.forgetLocked(messageID)
	s.chats[idx].UpdatedAt = time.Now()
	s.commitLocked(chatID)
	s.mu.Unlock()

	return nil
}

// DeleteMessage removes one message from a chat.
func (s *Store) DeleteMessage(chatID, messageID string) error {
	s.mu.Lock()

	idx := s.indexLocked(chatID)
	if idx < 0 {
		s.mu.Unlock()
		return fmt.Errorf("chat %s: %w", chatID, ErrChatNotFound)
	}

	msgs := s.chats[idx].Messages
	found := false
	for i, m := range msgs {
		if m.ID == messageID {
			s.chats[idx].Messages = append(msgs[:i], msgs[i+1:]...)
			found = true
			break
		}
	}
	if !found {
		s.mu.Unlock()
		return fmt.Errorf("message %s: %w", messageID, ErrMessageNotFound)
	}

	s.forgetLocked(messageID)
	s.chats[idx].UpdatedAt = time.Now()
	s.commitLocked(chatID)
	s.mu.Unlock()

	return nil
}

// ClearChat removes every message from a chat but keeps the chat.
func (s *Store) ClearChat(id string) error {
	s.mu.Lock()

	idx := s.indexLocked(id)
	if idx < 0 {
		s.mu.Unlock()
		return fmt.Errorf("chat %s: %w", id, ErrChatNotFound)
	}

	for _, m := range s.chats[idx].Messages {
		s.forgetLocked(m.ID)
	}
	s.chats[idx].Messages = []Message{}
	s.chats[idx].UpdatedAt = time.Now()
	s.commitLocked(id)
	s.mu.Unlock()

	return nil
}

// DeleteChat removes a conversation. Deleting the current chat
// reselects the first remaining chat, or clears the selection when none
// remain. Removal and reselection commit as one change.
func (s *Store) DeleteChat(id string) error {
	s.mu.Lock()

	idx := s.indexLocked(id)
	if idx < 0 {
		s.mu.Unlock()
		return fmt.Errorf("chat %s: %w", id, ErrChatNotFound)
	}

	for _, m := range s.chats[idx].Messages {
		s.forgetLocked(m.ID)
	}
	s.chats = append(s.chats[:idx], s.chats[idx+1:]...)

	if s.currentID == id {
		switch {
		case len(s.chats) > 0:
			s.currentID = s.chats[0].ID
		default:
			s.currentID = ""
		}
	}
	s.commitLocked(id)
	s.mu.Unlock()

	return nil
}

// UpdateChatTitle renames a chat without changing list order.
func (s *Store) UpdateChatTitle(id, title string) error {
	s.mu.Lock()

	idx := s.indexLocked(id)
	if idx < 0 {
		s.mu.Unlock()
		return fmt.Errorf("chat %s: %w", id, ErrChatNotFound)
	}

	s.chats[idx].Title = title
	s.chats[idx].UpdatedAt = time.Now()
	s.commitLocked(id)
	s.mu.Unlock()

	return nil
}

// Chats returns a snapshot of every conversation, most recently active
// first.
func (s *Store) Chats() []Chat {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Chat, len(s.chats))
	for i, c := range s.chats {
		out[i] = cloneChat(c)
	}
	return out
}

// CurrentChatID returns the selected chat's id, or "" when none is
// selected.
func (s *Store) CurrentChatID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentID
}

// CurrentChat returns a snapshot of the selected chat.
func (s *Store) CurrentChat() (Chat, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx := s.indexLocked(s.currentID)
	if idx < 0 {
		return Chat{}, false
	}
	return cloneChat(s.chats[idx]), true
}

// GetChat returns a snapshot of one chat by id.
func (s *Store) GetChat(id string) (Chat, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx := s.indexLocked(id)
	if idx < 0 {
		return Chat{}, false
	}
	return cloneChat(s.chats[idx]), true
}

func (s *Store) indexLocked(id string) int {
	for i, c := range s.chats {
		if c.ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) forgetLocked(messageID string) {
	delete(s.lastContent, messageID)
	delete(s.lastReasoning, messageID)
}

func (s *Store) messageLocked(chatIdx int, messageID string) *Message {
	msgs := s.chats[chatIdx].Messages
	for i := range msgs {
		if msgs[i].ID == messageID {
			return &msgs[i]
		}
	}
	return nil
}

// commitLocked persists the full state and notifies subscribers. Called
// once per mutation, with the store lock held.
func (s *Store) commitLocked(chatID string) {
	if s.persister != nil {
		snapshot := make([]Chat, len(s.chats))
		for i, c := range s.chats {
			snapshot[i] = cloneChat(c)
		}
		if err := s.persister.SaveChats(snapshot, s.currentID); err != nil {
			switch {
			case config.DebugLog != nil:
				config.DebugLog.Printf("[Chat] Failed to persist conversations: %v", err)
			}
		}
	}
	if s.bus != nil {
		s.bus.Publish(events.ChatsChanged{ChatID: chatID})
	}
}

func cloneChat(c Chat) Chat {
	out := c
	out.Messages = make([]Message, len(c.Messages))
	for i, m := range c.Messages {
		out.Messages[i] = cloneMessage(m)
	}
	return out
}

func cloneMessage(m Message) Message {
	out := m
	out.ContentParts = append([]ContentPart(nil), m.ContentParts...)
	out.ContextRefs = append([]string(nil), m.ContextRefs...)
	return out
}
