package convo

import (
	"sync"

	"github.com/agentflow/convruntime/internal/entity"
	"github.com/agentflow/convruntime/internal/protocol"
)

// Message owns a role fixed at start, a ToolCall children map, and a list of
// ContentParts — immutable leaf events rather than Helpers, kept for
// observability and not part of the entity tree's child bookkeeping.
type Message struct {
	*entity.Base
	ctx  *Context
	emit func(protocol.MessageEnvelope) error

	role MessageRoleHolder

	toolCalls *entity.ChildMap[*ToolCall]

	contentMu sync.Mutex
	content   []*ContentPart

	buffer entity.Buffer[protocol.MessageEnvelope]

	fetcher Fetcher
}

// MessageRoleHolder pins the role chosen at start; it never changes.
type MessageRoleHolder struct {
	Role protocol.MessageRole
}

func newMessage(ctx *Context, id string, start *protocol.StartMessageEvent, emit func(protocol.MessageEnvelope) error, removeFromParent func(), fetcher Fetcher) *Message {
	var startAny any
	hasStart := start != nil
	role := protocol.MessageRole("")
	if hasStart {
		startAny = *start
		role = start.Role
	}
	return &Message{
		Base:      entity.New(id, startAny, hasStart, removeFromParent, ctx.Logger.Slog()),
		ctx:       ctx,
		emit:      emit,
		role:      MessageRoleHolder{Role: role},
		toolCalls: entity.NewChildMap[*ToolCall](),
		fetcher:   fetcher,
	}
}

// Role returns the message's fixed role.
func (m *Message) Role() protocol.MessageRole { return m.role.Role }

// ContentParts returns a snapshot of the content parts dispatched so far.
func (m *Message) ContentParts() []*ContentPart {
	m.contentMu.Lock()
	defer m.contentMu.Unlock()
	out := make([]*ContentPart, len(m.content))
	copy(out, m.content)
	return out
}

// ToolCalls returns the message's tool-call children, in creation order.
func (m *Message) ToolCalls() []*ToolCall {
	return m.toolCalls.Values()
}

// StartToolCall opens a ToolCall nested in this message.
func (m *Message) StartToolCall(toolCallID, toolName string, input []byte) (*ToolCall, error) {
	if err := m.AssertLive(); err != nil {
		return nil, err
	}
	start := &protocol.StartToolCallEvent{ToolCallID: toolCallID, ToolName: toolName, Input: input}
	tc := newToolCall(m.ctx, toolCallID, start, func(ev protocol.ToolCallEnvelope) error {
		return m.emit(protocol.MessageEnvelope{MessageID: m.ID(), ToolCall: &ev})
	}, func() { m.toolCalls.Delete(toolCallID) })
	m.toolCalls.Set(toolCallID, tc)
	m.ctx.Metrics.HelperCreated("tool_call")
	if err := tc.emit(protocol.ToolCallEnvelope{ToolCallID: toolCallID, StartToolCall: start}); err != nil {
		return nil, err
	}
	return tc, nil
}

// SendEndMessage closes the message, cascading deletion to any still-open
// tool calls first.
func (m *Message) SendEndMessage() error {
	if err := m.AssertLive(); err != nil {
		return err
	}
	if err := m.MarkEnded(); err != nil {
		return err
	}
	m.cascadeDeleteChildren()
	m.Delete()
	return m.emit(protocol.MessageEnvelope{MessageID: m.ID(), EndMessage: &protocol.EndMessageEvent{}})
}

// SendMetaEvent emits an opaque meta event scoped to this message.
func (m *Message) SendMetaEvent(payload []byte) error {
	if err := m.AssertLive(); err != nil {
		return err
	}
	return m.emit(protocol.MessageEnvelope{MessageID: m.ID(), MetaEvent: payload})
}

func (m *Message) cascadeDeleteChildren() {
	for _, tc := range m.toolCalls.Values() {
		tc.ForceEnd()
		m.ctx.Metrics.HelperDeleted("tool_call")
		tc.Delete()
	}
}

// Dispatch routes an inbound MessageEnvelope addressed to this message.
func (m *Message) Dispatch(env protocol.MessageEnvelope) {
	if env.MessageID != m.ID() {
		return
	}
	if m.Paused() {
		m.buffer.Push(env)
		return
	}
	m.process(env)
}

// Resume clears the paused flag and drains buffered envelopes in order.
func (m *Message) Resume() {
	m.SetResumed()
	m.buffer.Drain(func(env protocol.MessageEnvelope) {
		m.ctx.Metrics.SetPauseBufferDepth(m.ID(), m.buffer.Len())
		m.process(env)
	})
}

func (m *Message) process(env protocol.MessageEnvelope) {
	m.ctx.Metrics.Dispatched("message")
	switch {
	case env.EndMessage != nil:
		m.Fire("endMessage", env.EndMessage)
		_ = m.MarkEnded()
		m.cascadeDeleteChildren()
		m.ctx.Metrics.HelperDeleted("message")
		m.Delete()
	case env.ToolCall != nil:
		m.routeToolCall(*env.ToolCall)
	case env.ContentPart != nil:
		part := NewContentPart(*env.ContentPart, m.fetcher)
		m.contentMu.Lock()
		m.content = append(m.content, part)
		m.contentMu.Unlock()
		m.Fire("contentPart", part)
	case env.MessageError != nil:
		handleErrorEnvelope(m.ctx, "message", m.ID(), m.Base, env.MessageError, m.Fire)
	case env.MetaEvent != nil:
		m.Fire("metaEvent", []byte(env.MetaEvent))
	case env.StartMessage != nil:
		// Duplicate start for an existing id; ignored.
	default:
		if m.ctx.Sinks != nil && m.ctx.Sinks.UnhandledEnvelope != nil {
			m.ctx.Sinks.UnhandledEnvelope("message", env)
		}
	}
}

func (m *Message) routeToolCall(env protocol.ToolCallEnvelope) {
	if child, ok := m.toolCalls.Get(env.ToolCallID); ok {
		child.Dispatch(env)
		return
	}
	if env.StartToolCall != nil {
		child := newToolCall(m.ctx, env.ToolCallID, env.StartToolCall, func(ev protocol.ToolCallEnvelope) error {
			return m.emit(protocol.MessageEnvelope{MessageID: m.ID(), ToolCall: &ev})
		}, func() { m.toolCalls.Delete(env.ToolCallID) })
		m.toolCalls.Set(env.ToolCallID, child)
		m.ctx.Metrics.HelperCreated("tool_call")
		m.Fire("toolCallStart", child)
		return
	}
	if m.ctx.Sinks != nil && m.ctx.Sinks.UnhandledEnvelope != nil {
		m.ctx.Sinks.UnhandledEnvelope("toolCall", env)
	}
}

// OnEndMessage registers a handler for the closing event.
func (m *Message) OnEndMessage(fn func()) func() {
	return m.On("endMessage", func(any) { fn() })
}

// OnToolCallStart fires when a child ToolCall is created by an inbound
// start event.
func (m *Message) OnToolCallStart(fn func(*ToolCall)) func() {
	return m.On("toolCallStart", func(v any) { fn(v.(*ToolCall)) })
}

// OnContentPart fires whenever a content-part event is dispatched.
func (m *Message) OnContentPart(fn func(*ContentPart)) func() {
	return m.On("contentPart", func(v any) { fn(v.(*ContentPart)) })
}

// OnMessageErrorStart registers a handler for a local errorStart.
func (m *Message) OnMessageErrorStart(fn func(protocol.ErrorStart)) func() {
	return m.On("errorStart", func(v any) { fn(v.(protocol.ErrorStart)) })
}

// OnMessageErrorEnd registers a handler for a local errorEnd.
func (m *Message) OnMessageErrorEnd(fn func(protocol.ErrorEnd)) func() {
	return m.On("errorEnd", func(v any) { fn(v.(protocol.ErrorEnd)) })
}

// OnMetaEvent registers a handler for opaque meta events.
func (m *Message) OnMetaEvent(fn func([]byte)) func() {
	return m.On("metaEvent", func(v any) { fn(v.([]byte)) })
}
