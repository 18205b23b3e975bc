package convo

import (
	"github.com/agentflow/convruntime/internal/entity"
	"github.com/agentflow/convruntime/internal/protocol"
)

// AsyncStream is the Session-scoped async output/input stream: a
// fire-and-forget artefact (an audio stream, a background transcript) that
// doesn't belong to a single exchange. Both directions share this type; the
// owning Session keeps them in separate children maps so a client
// subscribing to "all output streams" never sees an input stream.
type AsyncStream struct {
	*entity.Base
	ctx    *Context
	kind   string // "asyncOutputStream" or "asyncInputStream", for metrics/logging only
	emit   func(protocol.StreamEnvelope) error
	buffer entity.Buffer[protocol.StreamEnvelope]
}

func newAsyncStream(ctx *Context, kind, id string, start *protocol.StartStreamEvent, emit func(protocol.StreamEnvelope) error, removeFromParent func()) *AsyncStream {
	var startAny any
	hasStart := start != nil
	if hasStart {
		startAny = *start
	}
	return &AsyncStream{
		Base: entity.New(id, startAny, hasStart, removeFromParent, ctx.Logger.Slog()),
		ctx:  ctx,
		kind: kind,
		emit: emit,
	}
}

// SendChunk emits one chunk of streamed content.
func (s *AsyncStream) SendChunk(data string, isIncomplete bool) error {
	if err := s.AssertLive(); err != nil {
		return err
	}
	return s.emit(protocol.StreamEnvelope{
		StreamID: s.ID(),
		Chunk:    &protocol.StreamChunkEvent{Data: data, IsIncomplete: isIncomplete},
	})
}

// SendEndStream closes the stream.
func (s *AsyncStream) SendEndStream() error {
	if err := s.AssertLive(); err != nil {
		return err
	}
	if err := s.MarkEnded(); err != nil {
		return err
	}
	s.Delete()
	return s.emit(protocol.StreamEnvelope{StreamID: s.ID(), EndStream: &protocol.EndStreamEvent{}})
}

// SendMetaEvent emits an opaque meta event scoped to this stream.
func (s *AsyncStream) SendMetaEvent(payload []byte) error {
	if err := s.AssertLive(); err != nil {
		return err
	}
	return s.emit(protocol.StreamEnvelope{StreamID: s.ID(), MetaEvent: payload})
}

// Dispatch routes an inbound StreamEnvelope addressed to this stream.
func (s *AsyncStream) Dispatch(env protocol.StreamEnvelope) {
	if env.StreamID != s.ID() {
		return
	}
	if s.Paused() {
		s.buffer.Push(env)
		return
	}
	s.process(env)
}

// Resume clears the paused flag and drains buffered envelopes in order.
func (s *AsyncStream) Resume() {
	s.SetResumed()
	s.buffer.Drain(func(env protocol.StreamEnvelope) {
		s.ctx.Metrics.SetPauseBufferDepth(s.ID(), s.buffer.Len())
		s.process(env)
	})
}

func (s *AsyncStream) process(env protocol.StreamEnvelope) {
	s.ctx.Metrics.Dispatched("stream")
	switch {
	case env.EndStream != nil:
		s.Fire("endStream", env.EndStream)
		_ = s.MarkEnded()
		s.ctx.Metrics.HelperDeleted(s.kind)
		s.Delete()
	case env.Chunk != nil:
		s.Fire("chunk", env.Chunk)
	case env.StreamError != nil:
		handleErrorEnvelope(s.ctx, s.kind, s.ID(), s.Base, env.StreamError, s.Fire)
	case env.MetaEvent != nil:
		s.Fire("metaEvent", []byte(env.MetaEvent))
	case env.StartStream != nil:
		// Duplicate start for an existing id; ignored.
	default:
		if s.ctx.Sinks != nil && s.ctx.Sinks.UnhandledEnvelope != nil {
			s.ctx.Sinks.UnhandledEnvelope(s.kind, env)
		}
	}
}

// OnChunk registers a handler for stream chunk events.
func (s *AsyncStream) OnChunk(fn func(*protocol.StreamChunkEvent)) func() {
	return s.On("chunk", func(v any) { fn(v.(*protocol.StreamChunkEvent)) })
}

// OnEndStream registers a handler for the closing event.
func (s *AsyncStream) OnEndStream(fn func()) func() {
	return s.On("endStream", func(any) { fn() })
}

// OnStreamErrorStart registers a handler for a local errorStart.
func (s *AsyncStream) OnStreamErrorStart(fn func(protocol.ErrorStart)) func() {
	return s.On("errorStart", func(v any) { fn(v.(protocol.ErrorStart)) })
}

// OnStreamErrorEnd registers a handler for a local errorEnd.
func (s *AsyncStream) OnStreamErrorEnd(fn func(protocol.ErrorEnd)) func() {
	return s.On("errorEnd", func(v any) { fn(v.(protocol.ErrorEnd)) })
}

// OnMetaEvent registers a handler for opaque meta events.
func (s *AsyncStream) OnMetaEvent(fn func([]byte)) func() {
	return s.On("metaEvent", func(v any) { fn(v.([]byte)) })
}
