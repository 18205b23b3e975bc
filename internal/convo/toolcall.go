package convo

import (
	"github.com/agentflow/convruntime/internal/entity"
	"github.com/agentflow/convruntime/internal/protocol"
)

// ToolCall is reused both as a child of a Message (exchange-scoped) and
// directly as a child of a Session (an async tool call) — the wire shape
// and lifecycle are identical, only the parent's emit-wrapping differs.
type ToolCall struct {
	*entity.Base
	ctx    *Context
	emit   func(protocol.ToolCallEnvelope) error
	buffer entity.Buffer[protocol.ToolCallEnvelope]
}

func newToolCall(ctx *Context, id string, start *protocol.StartToolCallEvent, emit func(protocol.ToolCallEnvelope) error, removeFromParent func()) *ToolCall {
	var startAny any
	hasStart := start != nil
	if hasStart {
		startAny = *start
	}
	return &ToolCall{
		Base: entity.New(id, startAny, hasStart, removeFromParent, ctx.Logger.Slog()),
		ctx:  ctx,
		emit: emit,
	}
}

// SendEndToolCall closes the tool call, optionally carrying its result.
func (t *ToolCall) SendEndToolCall(result *protocol.ToolCallResult) error {
	if err := t.AssertLive(); err != nil {
		return err
	}
	if err := t.MarkEnded(); err != nil {
		return err
	}
	t.Delete()
	return t.emit(protocol.ToolCallEnvelope{
		ToolCallID:  t.ID(),
		EndToolCall: &protocol.EndToolCallEvent{Result: result},
	})
}

// SendMetaEvent emits an opaque meta event scoped to this tool call.
func (t *ToolCall) SendMetaEvent(payload []byte) error {
	if err := t.AssertLive(); err != nil {
		return err
	}
	return t.emit(protocol.ToolCallEnvelope{ToolCallID: t.ID(), MetaEvent: payload})
}

// Dispatch routes an inbound ToolCallEnvelope addressed to this tool call.
func (t *ToolCall) Dispatch(env protocol.ToolCallEnvelope) {
	if env.ToolCallID != t.ID() {
		return
	}
	if t.Paused() {
		t.buffer.Push(env)
		return
	}
	t.process(env)
}

// Resume clears the paused flag and drains any envelopes that arrived while
// this tool call was paused, in FIFO order.
func (t *ToolCall) Resume() {
	t.SetResumed()
	t.buffer.Drain(func(env protocol.ToolCallEnvelope) {
		t.ctx.Metrics.SetPauseBufferDepth(t.ID(), t.buffer.Len())
		t.process(env)
	})
}

func (t *ToolCall) process(env protocol.ToolCallEnvelope) {
	t.ctx.Metrics.Dispatched("tool_call")
	switch {
	case env.EndToolCall != nil:
		t.Fire("endToolCall", env.EndToolCall)
		_ = t.MarkEnded()
		t.ctx.Metrics.HelperDeleted("tool_call")
		t.Delete()
	case env.ToolCallError != nil:
		handleErrorEnvelope(t.ctx, "tool_call", t.ID(), t.Base, env.ToolCallError, t.Fire)
	case env.MetaEvent != nil:
		t.Fire("metaEvent", []byte(env.MetaEvent))
	case env.StartToolCall != nil:
		// Duplicate start for an id that already has a live Helper; ignored.
	default:
		if t.ctx.Sinks != nil && t.ctx.Sinks.UnhandledEnvelope != nil {
			t.ctx.Sinks.UnhandledEnvelope("toolCall", env)
		}
	}
}

// OnEndToolCall registers a handler for the closing event.
func (t *ToolCall) OnEndToolCall(fn func(*protocol.EndToolCallEvent)) func() {
	return t.On("endToolCall", func(v any) { fn(v.(*protocol.EndToolCallEvent)) })
}

// OnToolCallErrorStart registers a handler for a local errorStart.
func (t *ToolCall) OnToolCallErrorStart(fn func(protocol.ErrorStart)) func() {
	return t.On("errorStart", func(v any) { fn(v.(protocol.ErrorStart)) })
}

// OnToolCallErrorEnd registers a handler for a local errorEnd.
func (t *ToolCall) OnToolCallErrorEnd(fn func(protocol.ErrorEnd)) func() {
	return t.On("errorEnd", func(v any) { fn(v.(protocol.ErrorEnd)) })
}

// OnMetaEvent registers a handler for opaque meta events.
func (t *ToolCall) OnMetaEvent(fn func([]byte)) func() {
	return t.On("metaEvent", func(v any) { fn(v.([]byte)) })
}
