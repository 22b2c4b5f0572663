// Package events provides the process-wide event bus that carries
// server status changes and generation deltas to whoever integrates
// the core (a UI, a test, the CLI loop). The bus is created at startup,
// passed by reference to publishers, and closed at shutdown.
package events

import "sync"

// Event is one of the concrete event types below.
type Event any

// ServerStatusChanged is published whenever a tool server's committed
// status changes.
type ServerStatusChanged struct {
	ServerID string
	Status   string
	Err      error
}

// ChatsChanged is published after any committed conversation mutation.
// ChatID names the affected chat; it is empty for whole-list changes.
type ChatsChanged struct {
	ChatID string
}

// ServerLog carries an out-of-band log line from a tool server process.
type ServerLog struct {
	ServerID string
	Line     string
}

// GenerationDelta is published for each committed incremental content
// update of a streaming message, and once more with Done set when the
// session settles.
type GenerationDelta struct {
	ChatID    string
	MessageID string
	Content   string
	Reasoning string
	Done      bool
	Err       error
}

type Bus struct {
	mu     sync.Mutex
	subs   map[int]chan Event
	nextID int
	closed bool
}

func NewBus() *Bus {
	return &Bus{
		subs: make(map[int]chan Event),
	}
}

// Subscribe returns a receive channel and a cancel function. The channel
// is buffered; a slow subscriber drops events rather than blocking a
// publisher.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan Event, buffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Publish delivers ev to every subscriber without blocking.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			// Subscriber buffer full; drop rather than stall the publisher.
		}
	}
}

// Close tears down the bus. Subsequent publishes are no-ops.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
