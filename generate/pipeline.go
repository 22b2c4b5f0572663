// Package generate runs streaming response generation: history
// assembly, tool catalog refresh, the provider stream, tool round
// execution, and throttled delivery into the conversation store.
package generate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"nore/chat"
	"nore/config"
	"nore/events"
	"nore/mcp"
	"nore/provider"
)

// ErrGenerationActive is returned when a chat already has a generation
// in flight. One chat, one stream.
var ErrGenerationActive = errors.New("generation already active for this chat")

// Session states.
type State string

const (
	StatePreparing State = "preparing"
	StateStreaming State = "streaming"
	StateCompleted State = "completed"
	StateCancelled State = "cancelled"
	StateFailed    State = "failed"
)

// Session tracks one generation from request to settlement.
type Session struct {
	ChatID    string
	MessageID string
	StartTime time.Time

	mu         sync.Mutex
	state      State
	firstToken time.Duration
	err        error

	cancel context.CancelFunc
	done   chan struct{}
}

// State returns the session's current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// FirstTokenLatency reports the time from request to the first delta
// carrying text or reasoning. The second return is false until such a
// delta arrived; tool-call-only deltas do not count.
func (s *Session) FirstTokenLatency() (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.firstToken, s.firstToken > 0
}

// Err returns the terminal error, if the session failed.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Wait blocks until the session settles and returns its terminal error.
func (s *Session) Wait() error {
	<-s.done
	return s.Err()
}

func (s *Session) markFirstToken() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.firstToken == 0 {
		s.firstToken = time.Since(s.StartTime)
	}
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// Pipeline owns the per-chat generation sessions.
type Pipeline struct {
	store  *chat.Store
	prov   provider.Provider
	bridge *mcp.Bridge
	bus    *events.Bus
	cfg    config.GenerationConfig

	mu     sync.Mutex
	active map[string]*Session
}

func NewPipeline(store *chat.Store, prov provider.Provider, bridge *mcp.Bridge, bus *events.Bus, cfg config.GenerationConfig) *Pipeline {
	return &Pipeline{
		store:  store,
		prov:   prov,
		bridge: bridge,
		bus:    bus,
		cfg:    cfg,
		active: make(map[string]*Session),
	}
}

// Active returns the in-flight session for a chat, if any.
func (p *Pipeline) Active(chatID string) (*Session, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.active[chatID]
	return s, ok
}

// Cancel aborts the in-flight generation for a chat. Returns false when
// nothing was running.
func (p *Pipeline) Cancel(chatID string) bool {
	p.mu.Lock()
	s, ok := p.active[chatID]
	p.mu.Unlock()

	if !ok {
		return false
	}
	s.cancel()
	return true
}

// Generate records the user's message, creates the assistant
// placeholder, and starts streaming into it. The returned session
// settles asynchronously; a second call for the same chat while one is
// in flight is rejected with ErrGenerationActive.
func (p *Pipeline) Generate(ctx context.Context, chatID, userText string, contextRefs []string) (*Session, error) {
	if _, ok := p.store.GetChat(chatID); !ok {
		return nil, fmt.Errorf("chat %s: %w", chatID, chat.ErrChatNotFound)
	}

	p.mu.Lock()
	if _, busy := p.active[chatID]; busy {
		p.mu.Unlock()
		return nil, fmt.Errorf("chat %s: %w", chatID, ErrGenerationActive)
	}
	// Reserve the slot before releasing the lock so a racing call
	// cannot slip in between check and start.
	placeholder := &Session{ChatID: chatID}
	p.active[chatID] = placeholder
	p.mu.Unlock()

	userMsg := chat.TextMessage("", chat.RoleUser, userText)
	userMsg.ContextRefs = contextRefs
	if _, err := p.store.AddMessage(chatID, userMsg); err != nil {
		p.release(chatID)
		return nil, err
	}

	assistantMsg, err := p.store.AddMessage(chatID, chat.Message{
		Role:  chat.RoleAssistant,
		Model: p.prov.Model(),
	})
	if err != nil {
		p.release(chatID)
		return nil, err
	}

	genCtx, cancel := context.WithCancel(ctx)
	session := &Session{
		ChatID:    chatID,
		MessageID: assistantMsg.ID,
		StartTime: time.Now(),
		state:     StatePreparing,
		cancel:    cancel,
		done:      make(chan struct{}),
	}

	p.mu.Lock()
	p.active[chatID] = session
	p.mu.Unlock()

	go p.run(genCtx, session)

	return session, nil
}

func (p *Pipeline) release(chatID string) {
	p.mu.Lock()
	delete(p.active, chatID)
	p.mu.Unlock()
}

func (p *Pipeline) run(ctx context.Context, s *Session) {
	defer func() {
		p.release(s.ChatID)
		close(s.done)
	}()

	snapshot, ok := p.store.GetChat(s.ChatID)
	if !ok {
		p.settleFailed(s, fmt.Errorf("chat %s: %w", s.ChatID, chat.ErrChatNotFound))
		return
	}
	history := p.buildHistory(snapshot.Messages, s.MessageID)

	// Tool availability is refreshed per generation; a server that
	// fails to answer costs its own tools, nothing else.
	var tools []mcp.ToolDescriptor
	if p.bridge != nil {
		refresh := p.bridge.RefreshCatalog(ctx)
		tools = refresh.Tools
	}

	// Both send paths re-check cancellation: a provider SDK can drain
	// buffered chunks after ctx is done, and a trailing throttle timer
	// can fire in that window. Nothing lands in the store past cancel.
	interval := time.Duration(p.cfg.ThrottleIntervalMS) * time.Millisecond
	deliver := newDeliverer(interval, func(content string) {
		if ctx.Err() != nil {
			return
		}
		if err := p.store.UpdateMessageContent(s.ChatID, s.MessageID, content); err != nil {
			switch {
			case config.DebugLog != nil:
				config.DebugLog.Printf("[Generate] Content update failed for %s: %v", s.MessageID, err)
			}
			return
		}
		p.publishDelta(s, content, "", false, nil)
	})
	deliverReasoning := newDeliverer(interval, func(content string) {
		if ctx.Err() != nil {
			return
		}
		if err := p.store.UpdateMessageReasoning(s.ChatID, s.MessageID, content); err != nil {
			switch {
			case config.DebugLog != nil:
				config.DebugLog.Printf("[Generate] Reasoning update failed for %s: %v", s.MessageID, err)
			}
			return
		}
		p.publishDelta(s, "", content, false, nil)
	})

	s.setState(StateStreaming)

	var segment strings.Builder
	for round := 0; ; round++ {
		var (
			reasoning strings.Builder
			toolCalls []provider.ToolCall
		)

		streamErr := p.prov.ChatStream(ctx, history, tools, func(delta provider.Delta) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if delta.Text != "" || delta.Reasoning != "" {
				s.markFirstToken()
			}
			if delta.Reasoning != "" {
				reasoning.WriteString(delta.Reasoning)
				deliverReasoning.Offer(reasoning.String())
			}
			if delta.Text != "" {
				segment.WriteString(delta.Text)
				deliver.Offer(segment.String())
			}
			toolCalls = append(toolCalls, delta.ToolCalls...)
			return nil
		})

		switch {
		case ctx.Err() != nil:
			// Cancelled: keep what was delivered, drop the rest, no
			// error marker.
			deliver.Stop()
			deliverReasoning.Stop()
			s.setState(StateCancelled)
			p.publishDelta(s, "", "", true, nil)
			return
		case streamErr != nil:
			deliver.Stop()
			deliverReasoning.Stop()
			p.appendErrorMarker(s, segment.String(), streamErr)
			p.settleFailed(s, streamErr)
			return
		}

		if len(toolCalls) == 0 || round >= p.cfg.MaxToolRounds {
			deliverReasoning.Flush()
			deliver.Flush()
			s.setState(StateCompleted)
			p.publishDelta(s, segment.String(), reasoning.String(), true, nil)
			return
		}

		// Commit this segment before the tool parts land after it, then
		// run the calls and feed results back to the model.
		deliverReasoning.Flush()
		deliver.Flush()
		history = append(history, chat.TextMessage("", chat.RoleAssistant, segment.String()))
		segment.Reset()

		results := p.executeToolCalls(ctx, s, toolCalls)
		history = append(history, results...)
	}
}

// executeToolCalls records the call/result parts on the streaming
// message and returns the tool turns to feed back into the history.
func (p *Pipeline) executeToolCalls(ctx context.Context, s *Session, calls []provider.ToolCall) []chat.Message {
	reqs := make([]mcp.InvokeRequest, len(calls))
	parts := make([]chat.ContentPart, len(calls))
	for i, call := range calls {
		reqs[i] = mcp.InvokeRequest{CallID: call.ID, ToolName: call.Name, ArgsJSON: call.ArgumentsJSON}
		parts[i] = chat.ContentPart{
			Type:       chat.PartToolCall,
			ToolCallID: call.ID,
			ToolName:   call.Name,
			Arguments:  call.ArgumentsJSON,
		}
	}
	_ = p.store.AppendMessageParts(s.ChatID, s.MessageID, parts...)

	var results []mcp.InvokeResult
	if p.bridge != nil {
		results = p.bridge.InvokeAll(ctx, reqs)
	} else {
		results = make([]mcp.InvokeResult, len(reqs))
		for i, req := range reqs {
			results[i] = mcp.InvokeResult{CallID: req.CallID, Err: mcp.ErrServerNotRunning}
		}
	}

	turns := make([]chat.Message, 0, len(results))
	resultParts := make([]chat.ContentPart, len(results))
	for i, res := range results {
		output := res.Output
		isErr := false
		if res.Err != nil {
			output = fmt.Sprintf("tool error: %v", res.Err)
			isErr = true
		}
		resultParts[i] = chat.ContentPart{
			Type:       chat.PartToolResult,
			ToolCallID: res.CallID,
			ToolName:   calls[i].Name,
			Result:     output,
			IsError:    isErr,
		}
		turns = append(turns, chat.TextMessage("", chat.RoleTool, output))
	}
	_ = p.store.AppendMessageParts(s.ChatID, s.MessageID, resultParts...)

	return turns
}

// buildHistory assembles the provider-facing transcript: system prompt
// first, then the trailing window of the conversation, trimmed so the
// window opens on a user turn.
func (p *Pipeline) buildHistory(messages []chat.Message, excludeID string) []chat.Message {
	included := make([]chat.Message, 0, len(messages))
	for _, m := range messages {
		if m.ID == excludeID {
			continue
		}
		included = append(included, m)
	}

	limit := p.cfg.ContextMessageLimit
	if limit < 1 {
		limit = 1
	}
	if len(included) > limit {
		included = included[len(included)-limit:]
	}

	// A window that opens mid-exchange confuses models; advance to the
	// first user turn, but never below one message.
	for len(included) > 1 && included[0].Role != chat.RoleUser {
		included = included[1:]
	}

	history := make([]chat.Message, 0, len(included)+1)
	if p.cfg.SystemPrompt != "" {
		history = append(history, chat.TextMessage("", chat.RoleSystem, p.cfg.SystemPrompt))
	}
	history = append(history, included...)
	return history
}

func (p *Pipeline) appendErrorMarker(s *Session, delivered string, cause error) {
	content := delivered
	if content != "" {
		content += "\n\n"
	}
	content += "⚠️ " + cause.Error()
	if err := p.store.UpdateMessageContent(s.ChatID, s.MessageID, content); err != nil {
		switch {
		case config.DebugLog != nil:
			config.DebugLog.Printf("[Generate] Failed to record error marker for %s: %v", s.MessageID, err)
		}
	}
}

func (p *Pipeline) settleFailed(s *Session, cause error) {
	s.mu.Lock()
	s.state = StateFailed
	s.err = cause
	s.mu.Unlock()
	p.publishDelta(s, "", "", true, cause)
}

func (p *Pipeline) publishDelta(s *Session, content, reasoning string, done bool, err error) {
	if p.bus == nil {
		return
	}
	p.bus.Publish(events.GenerationDelta{
		ChatID:    s.ChatID,
		MessageID: s.MessageID,
		Content:   content,
		Reasoning: reasoning,
		Done:      done,
		Err:       err,
	})
}
