package convo

import (
	"github.com/agentflow/convruntime/internal/entity"
	"github.com/agentflow/convruntime/internal/protocol"
)

// Exchange owns a Message children map, scoped to one turn of a
// conversation.
type Exchange struct {
	*entity.Base
	ctx      *Context
	emit     func(protocol.ExchangeEnvelope) error
	messages *entity.ChildMap[*Message]
	buffer   entity.Buffer[protocol.ExchangeEnvelope]
	fetcher  Fetcher
}

func newExchange(ctx *Context, id string, start *protocol.StartExchangeEvent, emit func(protocol.ExchangeEnvelope) error, removeFromParent func(), fetcher Fetcher) *Exchange {
	var startAny any
	hasStart := start != nil
	if hasStart {
		startAny = *start
	}
	return &Exchange{
		Base:     entity.New(id, startAny, hasStart, removeFromParent, ctx.Logger.Slog()),
		ctx:      ctx,
		emit:     emit,
		messages: entity.NewChildMap[*Message](),
		fetcher:  fetcher,
	}
}

// Messages returns the exchange's message children in creation order.
func (e *Exchange) Messages() []*Message { return e.messages.Values() }

// StartMessage opens a Message nested in this exchange.
func (e *Exchange) StartMessage(messageID string, role protocol.MessageRole, metadata map[string]any) (*Message, error) {
	if err := e.AssertLive(); err != nil {
		return nil, err
	}
	start := &protocol.StartMessageEvent{MessageID: messageID, Role: role, Metadata: metadata}
	msg := newMessage(e.ctx, messageID, start, func(ev protocol.MessageEnvelope) error {
		return e.emit(protocol.ExchangeEnvelope{ExchangeID: e.ID(), Message: &ev})
	}, func() { e.messages.Delete(messageID) }, e.fetcher)
	e.messages.Set(messageID, msg)
	e.ctx.Metrics.HelperCreated("message")
	if err := msg.emit(protocol.MessageEnvelope{MessageID: messageID, StartMessage: start}); err != nil {
		return nil, err
	}
	return msg, nil
}

// SendEndExchange closes the exchange, cascading deletion to any still-open
// messages first.
func (e *Exchange) SendEndExchange() error {
	if err := e.AssertLive(); err != nil {
		return err
	}
	if err := e.MarkEnded(); err != nil {
		return err
	}
	e.cascadeDeleteChildren()
	e.Delete()
	return e.emit(protocol.ExchangeEnvelope{ExchangeID: e.ID(), EndExchange: &protocol.EndExchangeEvent{}})
}

// SendMetaEvent emits an opaque meta event scoped to this exchange.
func (e *Exchange) SendMetaEvent(payload []byte) error {
	if err := e.AssertLive(); err != nil {
		return err
	}
	return e.emit(protocol.ExchangeEnvelope{ExchangeID: e.ID(), MetaEvent: payload})
}

func (e *Exchange) cascadeDeleteChildren() {
	for _, msg := range e.messages.Values() {
		msg.ForceEnd()
		msg.cascadeDeleteChildren()
		e.ctx.Metrics.HelperDeleted("message")
		msg.Delete()
	}
}

// Dispatch routes an inbound ExchangeEnvelope addressed to this exchange.
func (e *Exchange) Dispatch(env protocol.ExchangeEnvelope) {
	if env.ExchangeID != e.ID() {
		return
	}
	if e.Paused() {
		e.buffer.Push(env)
		return
	}
	e.process(env)
}

// Resume clears the paused flag and drains buffered envelopes in order.
func (e *Exchange) Resume() {
	e.SetResumed()
	e.buffer.Drain(func(env protocol.ExchangeEnvelope) {
		e.ctx.Metrics.SetPauseBufferDepth(e.ID(), e.buffer.Len())
		e.process(env)
	})
}

func (e *Exchange) process(env protocol.ExchangeEnvelope) {
	e.ctx.Metrics.Dispatched("exchange")
	switch {
	case env.EndExchange != nil:
		e.Fire("endExchange", env.EndExchange)
		_ = e.MarkEnded()
		e.cascadeDeleteChildren()
		e.ctx.Metrics.HelperDeleted("exchange")
		e.Delete()
	case env.Message != nil:
		e.routeMessage(*env.Message)
	case env.ExchangeError != nil:
		handleErrorEnvelope(e.ctx, "exchange", e.ID(), e.Base, env.ExchangeError, e.Fire)
	case env.MetaEvent != nil:
		e.Fire("metaEvent", []byte(env.MetaEvent))
	case env.StartExchange != nil:
		// Duplicate start for an existing id; ignored.
	default:
		if e.ctx.Sinks != nil && e.ctx.Sinks.UnhandledEnvelope != nil {
			e.ctx.Sinks.UnhandledEnvelope("exchange", env)
		}
	}
}

func (e *Exchange) routeMessage(env protocol.MessageEnvelope) {
	if child, ok := e.messages.Get(env.MessageID); ok {
		child.Dispatch(env)
		return
	}
	if env.StartMessage != nil {
		child := newMessage(e.ctx, env.MessageID, env.StartMessage, func(ev protocol.MessageEnvelope) error {
			return e.emit(protocol.ExchangeEnvelope{ExchangeID: e.ID(), Message: &ev})
		}, func() { e.messages.Delete(env.MessageID) }, e.fetcher)
		e.messages.Set(env.MessageID, child)
		e.ctx.Metrics.HelperCreated("message")
		e.Fire("messageStart", child)
		return
	}
	if e.ctx.Sinks != nil && e.ctx.Sinks.UnhandledEnvelope != nil {
		e.ctx.Sinks.UnhandledEnvelope("message", env)
	}
}

// OnEndExchange registers a handler for the closing event.
func (e *Exchange) OnEndExchange(fn func()) func() {
	return e.On("endExchange", func(any) { fn() })
}

// OnMessageStart fires when a child Message is created by an inbound start
// event.
func (e *Exchange) OnMessageStart(fn func(*Message)) func() {
	return e.On("messageStart", func(v any) { fn(v.(*Message)) })
}

// OnExchangeErrorStart registers a handler for a local errorStart.
func (e *Exchange) OnExchangeErrorStart(fn func(protocol.ErrorStart)) func() {
	return e.On("errorStart", func(v any) { fn(v.(protocol.ErrorStart)) })
}

// OnExchangeErrorEnd registers a handler for a local errorEnd.
func (e *Exchange) OnExchangeErrorEnd(fn func(protocol.ErrorEnd)) func() {
	return e.On("errorEnd", func(v any) { fn(v.(protocol.ErrorEnd)) })
}

// OnMetaEvent registers a handler for opaque meta events.
func (e *Exchange) OnMetaEvent(fn func([]byte)) func() {
	return e.On("metaEvent", func(v any) { fn(v.([]byte)) })
}
