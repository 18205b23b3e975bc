package convo

import (
	"sync/atomic"

	"github.com/agentflow/convruntime/internal/entity"
	"github.com/agentflow/convruntime/internal/protocol"
)

// Session is the root of one conversation's Helper subtree: it owns
// exchanges, async output/input streams, and async tool calls, and
// surfaces the transport's connection status read-only.
type Session struct {
	*entity.Base
	ctx  *Context
	emit func(protocol.ConversationEnvelope) error

	status atomic.Int32 // protocol.ConnectionStatus, stored as int32

	exchanges          *entity.ChildMap[*Exchange]
	asyncOutputStreams *entity.ChildMap[*AsyncStream]
	asyncInputStreams  *entity.ChildMap[*AsyncStream]
	asyncToolCalls     *entity.ChildMap[*ToolCall]

	buffer  entity.Buffer[protocol.ConversationEnvelope]
	fetcher Fetcher

	onEnded func() // Manager's hook to unregister this session
}

// NewSession constructs a Session. emit delivers an outbound
// ConversationEnvelope to the Transport (by way of the Manager). onEnded is
// called once, when endSession is sent or received, so the Manager can drop
// it from its session map.
func NewSession(ctx *Context, conversationID string, start *protocol.StartSessionEvent, emit func(protocol.ConversationEnvelope) error, onEnded func(), fetcher Fetcher) *Session {
	var startAny any
	hasStart := start != nil
	if hasStart {
		startAny = *start
	}
	s := &Session{
		Base:               entity.New(conversationID, startAny, hasStart, nil, ctx.Logger.Slog()),
		ctx:                ctx,
		emit:               emit,
		exchanges:          entity.NewChildMap[*Exchange](),
		asyncOutputStreams: entity.NewChildMap[*AsyncStream](),
		asyncInputStreams:  entity.NewChildMap[*AsyncStream](),
		asyncToolCalls:     entity.NewChildMap[*ToolCall](),
		fetcher:            fetcher,
		onEnded:            onEnded,
	}
	s.status.Store(int32(protocol.Disconnected))
	return s
}

// ConnectionStatus returns the transport's current status, as last reported
// by SetConnectionStatus.
func (s *Session) ConnectionStatus() protocol.ConnectionStatus {
	return protocol.ConnectionStatus(s.status.Load())
}

// SetConnectionStatus is called by the Manager whenever the Transport's
// status changes. While status is Disconnected, StartExchange,
// StartAsyncOutputStream, StartAsyncInputStream and StartAsyncToolCall fail
// with KindInvalidOperation. SendEndSession and the send-* methods of
// descendant Helpers do not check the status.
func (s *Session) SetConnectionStatus(status protocol.ConnectionStatus) {
	s.status.Store(int32(status))
}

func (s *Session) assertConnected() error {
	if s.ConnectionStatus() == protocol.Disconnected {
		return protocol.InvalidOperation("session " + s.ID() + " is disconnected")
	}
	return nil
}

// Exchanges returns the session's exchange children in creation order.
func (s *Session) Exchanges() []*Exchange { return s.exchanges.Values() }

// AsyncOutputStreams returns the session's output-stream children.
func (s *Session) AsyncOutputStreams() []*AsyncStream { return s.asyncOutputStreams.Values() }

// AsyncInputStreams returns the session's input-stream children.
func (s *Session) AsyncInputStreams() []*AsyncStream { return s.asyncInputStreams.Values() }

// AsyncToolCalls returns the session's async tool-call children.
func (s *Session) AsyncToolCalls() []*ToolCall { return s.asyncToolCalls.Values() }

// StartExchange opens an Exchange.
func (s *Session) StartExchange(exchangeID string, metadata map[string]any) (*Exchange, error) {
	if err := s.AssertLive(); err != nil {
		return nil, err
	}
	if err := s.assertConnected(); err != nil {
		return nil, err
	}
	start := &protocol.StartExchangeEvent{ExchangeID: exchangeID, Metadata: metadata}
	ex := newExchange(s.ctx, exchangeID, start, func(ev protocol.ExchangeEnvelope) error {
		return s.emit(protocol.ConversationEnvelope{ConversationID: s.ID(), Exchange: &ev})
	}, func() { s.exchanges.Delete(exchangeID) }, s.fetcher)
	s.exchanges.Set(exchangeID, ex)
	s.ctx.Metrics.HelperCreated("exchange")
	if err := ex.emit(protocol.ExchangeEnvelope{ExchangeID: exchangeID, StartExchange: start}); err != nil {
		return nil, err
	}
	return ex, nil
}

// StartAsyncOutputStream opens a Session-scoped output stream.
func (s *Session) StartAsyncOutputStream(streamID, mimeType string, metadata map[string]any) (*AsyncStream, error) {
	return s.startStream(streamID, mimeType, metadata, s.asyncOutputStreams, "asyncOutputStream", func(ev protocol.StreamEnvelope) error {
		return s.emit(protocol.ConversationEnvelope{ConversationID: s.ID(), AsyncOutputStream: &ev})
	})
}

// StartAsyncInputStream opens a Session-scoped input stream.
func (s *Session) StartAsyncInputStream(streamID, mimeType string, metadata map[string]any) (*AsyncStream, error) {
	return s.startStream(streamID, mimeType, metadata, s.asyncInputStreams, "asyncInputStream", func(ev protocol.StreamEnvelope) error {
		return s.emit(protocol.ConversationEnvelope{ConversationID: s.ID(), AsyncInputStream: &ev})
	})
}

func (s *Session) startStream(streamID, mimeType string, metadata map[string]any, into *entity.ChildMap[*AsyncStream], kind string, emit func(protocol.StreamEnvelope) error) (*AsyncStream, error) {
	if err := s.AssertLive(); err != nil {
		return nil, err
	}
	if err := s.assertConnected(); err != nil {
		return nil, err
	}
	start := &protocol.StartStreamEvent{StreamID: streamID, MimeType: mimeType, Metadata: metadata}
	stream := newAsyncStream(s.ctx, kind, streamID, start, emit, func() { into.Delete(streamID) })
	into.Set(streamID, stream)
	s.ctx.Metrics.HelperCreated(kind)
	if err := emit(protocol.StreamEnvelope{StreamID: streamID, StartStream: start}); err != nil {
		return nil, err
	}
	return stream, nil
}

// StartAsyncToolCall opens a Session-scoped (not exchange-scoped) tool call.
func (s *Session) StartAsyncToolCall(toolCallID, toolName string, input []byte) (*ToolCall, error) {
	if err := s.AssertLive(); err != nil {
		return nil, err
	}
	if err := s.assertConnected(); err != nil {
		return nil, err
	}
	start := &protocol.StartToolCallEvent{ToolCallID: toolCallID, ToolName: toolName, Input: input}
	tc := newToolCall(s.ctx, toolCallID, start, func(ev protocol.ToolCallEnvelope) error {
		return s.emit(protocol.ConversationEnvelope{ConversationID: s.ID(), AsyncToolCall: &ev})
	}, func() { s.asyncToolCalls.Delete(toolCallID) })
	s.asyncToolCalls.Set(toolCallID, tc)
	s.ctx.Metrics.HelperCreated("tool_call")
	if err := tc.emit(protocol.ToolCallEnvelope{ToolCallID: toolCallID, StartToolCall: start}); err != nil {
		return nil, err
	}
	return tc, nil
}

// SendEndSession terminates the session. The Manager's onEnded hook then
// unregisters it from the session map.
func (s *Session) SendEndSession() error {
	if err := s.AssertLive(); err != nil {
		return err
	}
	if err := s.MarkEnded(); err != nil {
		return err
	}
	s.cascadeDeleteChildren()
	s.Delete()
	if s.onEnded != nil {
		s.onEnded()
	}
	return s.emit(protocol.ConversationEnvelope{ConversationID: s.ID(), EndSession: &protocol.EndSessionEvent{}})
}

func (s *Session) cascadeDeleteChildren() {
	for _, ex := range s.exchanges.Values() {
		ex.ForceEnd()
		ex.cascadeDeleteChildren()
		s.ctx.Metrics.HelperDeleted("exchange")
		ex.Delete()
	}
	for _, st := range s.asyncOutputStreams.Values() {
		st.ForceEnd()
		s.ctx.Metrics.HelperDeleted("asyncOutputStream")
		st.Delete()
	}
	for _, st := range s.asyncInputStreams.Values() {
		st.ForceEnd()
		s.ctx.Metrics.HelperDeleted("asyncInputStream")
		st.Delete()
	}
	for _, tc := range s.asyncToolCalls.Values() {
		tc.ForceEnd()
		s.ctx.Metrics.HelperDeleted("tool_call")
		tc.Delete()
	}
}

// Dispatch routes an inbound ConversationEnvelope addressed to this session.
func (s *Session) Dispatch(env protocol.ConversationEnvelope) {
	if env.ConversationID != s.ID() {
		return
	}
	if s.Paused() {
		s.buffer.Push(env)
		return
	}
	s.process(env)
}

// Resume clears the paused flag and drains buffered envelopes in order.
func (s *Session) Resume() {
	s.SetResumed()
	s.buffer.Drain(func(env protocol.ConversationEnvelope) {
		s.ctx.Metrics.SetPauseBufferDepth(s.ID(), s.buffer.Len())
		s.process(env)
	})
}

func (s *Session) process(env protocol.ConversationEnvelope) {
	s.ctx.Metrics.Dispatched("conversation")
	switch {
	case env.EndSession != nil:
		s.Fire("endSession", nil)
		_ = s.MarkEnded()
		s.cascadeDeleteChildren()
		s.ctx.Metrics.HelperDeleted("session")
		s.Delete()
		if s.onEnded != nil {
			s.onEnded()
		}
	case env.Exchange != nil:
		s.routeExchange(*env.Exchange)
	case env.AsyncOutputStream != nil:
		s.routeStream(*env.AsyncOutputStream, s.asyncOutputStreams, "asyncOutputStream", func(ev protocol.StreamEnvelope) error {
			return s.emit(protocol.ConversationEnvelope{ConversationID: s.ID(), AsyncOutputStream: &ev})
		}, "asyncOutputStreamStart")
	case env.AsyncInputStream != nil:
		s.routeStream(*env.AsyncInputStream, s.asyncInputStreams, "asyncInputStream", func(ev protocol.StreamEnvelope) error {
			return s.emit(protocol.ConversationEnvelope{ConversationID: s.ID(), AsyncInputStream: &ev})
		}, "asyncInputStreamStart")
	case env.AsyncToolCall != nil:
		s.routeAsyncToolCall(*env.AsyncToolCall)
	case env.SessionError != nil:
		handleErrorEnvelope(s.ctx, "session", s.ID(), s.Base, env.SessionError, s.Fire)
	case env.MetaEvent != nil:
		s.Fire("metaEvent", []byte(env.MetaEvent))
	case env.StartSession != nil:
		// Manager already created the session for this payload; ignored.
	default:
		if s.ctx.Sinks != nil && s.ctx.Sinks.UnhandledEnvelope != nil {
			s.ctx.Sinks.UnhandledEnvelope("conversation", env)
		}
	}
}

func (s *Session) routeExchange(env protocol.ExchangeEnvelope) {
	if child, ok := s.exchanges.Get(env.ExchangeID); ok {
		child.Dispatch(env)
		return
	}
	if env.StartExchange != nil {
		child := newExchange(s.ctx, env.ExchangeID, env.StartExchange, func(ev protocol.ExchangeEnvelope) error {
			return s.emit(protocol.ConversationEnvelope{ConversationID: s.ID(), Exchange: &ev})
		}, func() { s.exchanges.Delete(env.ExchangeID) }, s.fetcher)
		s.exchanges.Set(env.ExchangeID, child)
		s.ctx.Metrics.HelperCreated("exchange")
		s.Fire("exchangeStart", child)
		return
	}
	if s.ctx.Sinks != nil && s.ctx.Sinks.UnhandledEnvelope != nil {
		s.ctx.Sinks.UnhandledEnvelope("exchange", env)
	}
}

func (s *Session) routeStream(env protocol.StreamEnvelope, into *entity.ChildMap[*AsyncStream], kind string, emit func(protocol.StreamEnvelope) error, startEvent string) {
	if child, ok := into.Get(env.StreamID); ok {
		child.Dispatch(env)
		return
	}
	if env.StartStream != nil {
		child := newAsyncStream(s.ctx, kind, env.StreamID, env.StartStream, emit, func() { into.Delete(env.StreamID) })
		into.Set(env.StreamID, child)
		s.ctx.Metrics.HelperCreated(kind)
		s.Fire(startEvent, child)
		return
	}
	if s.ctx.Sinks != nil && s.ctx.Sinks.UnhandledEnvelope != nil {
		s.ctx.Sinks.UnhandledEnvelope(kind, env)
	}
}

func (s *Session) routeAsyncToolCall(env protocol.ToolCallEnvelope) {
	if child, ok := s.asyncToolCalls.Get(env.ToolCallID); ok {
		child.Dispatch(env)
		return
	}
	if env.StartToolCall != nil {
		child := newToolCall(s.ctx, env.ToolCallID, env.StartToolCall, func(ev protocol.ToolCallEnvelope) error {
			return s.emit(protocol.ConversationEnvelope{ConversationID: s.ID(), AsyncToolCall: &ev})
		}, func() { s.asyncToolCalls.Delete(env.ToolCallID) })
		s.asyncToolCalls.Set(env.ToolCallID, child)
		s.ctx.Metrics.HelperCreated("tool_call")
		s.Fire("asyncToolCallStart", child)
		return
	}
	if s.ctx.Sinks != nil && s.ctx.Sinks.UnhandledEnvelope != nil {
		s.ctx.Sinks.UnhandledEnvelope("asyncToolCall", env)
	}
}

// OnExchangeStart fires when a child Exchange is created by an inbound
// start event (a server-originated exchange).
func (s *Session) OnExchangeStart(fn func(*Exchange)) func() {
	return s.On("exchangeStart", func(v any) { fn(v.(*Exchange)) })
}

// OnAsyncOutputStreamStart fires for a server-originated output stream.
func (s *Session) OnAsyncOutputStreamStart(fn func(*AsyncStream)) func() {
	return s.On("asyncOutputStreamStart", func(v any) { fn(v.(*AsyncStream)) })
}

// OnAsyncInputStreamStart fires for a server-originated input stream.
func (s *Session) OnAsyncInputStreamStart(fn func(*AsyncStream)) func() {
	return s.On("asyncInputStreamStart", func(v any) { fn(v.(*AsyncStream)) })
}

// OnAsyncToolCallStart fires for a server-originated async tool call.
func (s *Session) OnAsyncToolCallStart(fn func(*ToolCall)) func() {
	return s.On("asyncToolCallStart", func(v any) { fn(v.(*ToolCall)) })
}

// OnEndSession registers a handler for session termination.
func (s *Session) OnEndSession(fn func()) func() {
	return s.On("endSession", func(any) { fn() })
}

// OnSessionErrorStart registers a handler for a local errorStart.
func (s *Session) OnSessionErrorStart(fn func(protocol.ErrorStart)) func() {
	return s.On("errorStart", func(v any) { fn(v.(protocol.ErrorStart)) })
}

// OnSessionErrorEnd registers a handler for a local errorEnd.
func (s *Session) OnSessionErrorEnd(fn func(protocol.ErrorEnd)) func() {
	return s.On("errorEnd", func(v any) { fn(v.(protocol.ErrorEnd)) })
}

// OnMetaEvent registers a handler for opaque meta events.
func (s *Session) OnMetaEvent(fn func([]byte)) func() {
	return s.On("metaEvent", func(v any) { fn(v.([]byte)) })
}
