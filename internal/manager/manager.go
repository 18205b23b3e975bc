// Package manager implements the single dispatch root: it tracks every live
// Session by conversation id, creates one on an inbound startSession for an
// unknown conversation, and owns the cross-cutting sinks (any-error,
// unhandled-error, unhandled-envelope) threaded into every Helper's Context.
package manager

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/agentflow/convruntime/internal/convo"
	"github.com/agentflow/convruntime/internal/observability"
	"github.com/agentflow/convruntime/internal/protocol"
)

// Emitter delivers an outbound ConversationEnvelope to the transport layer.
// The Manager never talks to a socket directly.
type Emitter interface {
	Emit(env protocol.ConversationEnvelope) error
}

// Manager is the Session map's sole owner.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*convo.Session

	emitter   Emitter
	idGen     func() string
	logger    *observability.Logger
	metrics   *observability.Metrics
	fetcher   convo.Fetcher
	connected func() bool

	sinks *convo.Sinks

	onAnyErrorStart       func(entityKind, conversationID, entityID string, ev protocol.ErrorStart)
	onAnyErrorEnd         func(entityKind, conversationID, entityID string, ev protocol.ErrorEnd)
	onUnhandledErrorStart func(entityKind, conversationID, entityID string, ev protocol.ErrorStart)
	onUnhandledErrorEnd   func(entityKind, conversationID, entityID string, ev protocol.ErrorEnd)
	onUnhandledEnvelope   func(reason string, raw any)
}

// Option configures a Manager at construction time.
type Option func(*Manager)

// WithIDGen overrides the default uuid-based id generator placed in every
// Session's Context as IDGen. No Helper in internal/convo calls IDGen.
func WithIDGen(fn func() string) Option {
	return func(m *Manager) { m.idGen = fn }
}

// WithFetcher overrides the default http.DefaultClient-backed fetcher used
// by ContentPart.GetData for externally-hosted content.
func WithFetcher(fetcher convo.Fetcher) Option {
	return func(m *Manager) { m.fetcher = fetcher }
}

// WithConnected supplies the live connection check threaded into every
// Session's Context; Session.assertConnected uses the per-session status
// set by SetSessionStatus, but children elsewhere in the tree may consult
// ctx.Connected directly.
func WithConnected(fn func() bool) Option {
	return func(m *Manager) { m.connected = fn }
}

// New constructs a Manager bound to emitter for outbound delivery.
func New(emitter Emitter, logger *observability.Logger, metrics *observability.Metrics, opts ...Option) *Manager {
	m := &Manager{
		sessions:  make(map[string]*convo.Session),
		emitter:   emitter,
		logger:    logger,
		metrics:   metrics,
		connected: func() bool { return true },
	}
	for _, opt := range opts {
		opt(m)
	}
	m.sinks = &convo.Sinks{
		AnyErrorStart: func(kind, conversationID, id string, ev protocol.ErrorStart) {
			if m.onAnyErrorStart != nil {
				m.onAnyErrorStart(kind, conversationID, id, ev)
			}
		},
		AnyErrorEnd: func(kind, conversationID, id string, ev protocol.ErrorEnd) {
			if m.onAnyErrorEnd != nil {
				m.onAnyErrorEnd(kind, conversationID, id, ev)
			}
		},
		UnhandledErrorStart: func(kind, conversationID, id string, ev protocol.ErrorStart) {
			m.metrics.Unhandled("error_start")
			if m.onUnhandledErrorStart != nil {
				m.onUnhandledErrorStart(kind, conversationID, id, ev)
			} else {
				m.logger.Warn(context.Background(), "unhandled error start with no sink registered", "kind", kind, "conversationId", conversationID, "entityId", id, "errorId", ev.ErrorID)
			}
		},
		UnhandledErrorEnd: func(kind, conversationID, id string, ev protocol.ErrorEnd) {
			m.metrics.Unhandled("error_end")
			if m.onUnhandledErrorEnd != nil {
				m.onUnhandledErrorEnd(kind, conversationID, id, ev)
			}
		},
		UnhandledEnvelope: func(reason string, raw any) {
			m.metrics.Unhandled("envelope")
			if m.onUnhandledEnvelope != nil {
				m.onUnhandledEnvelope(reason, raw)
			} else {
				m.logger.Warn(context.Background(), "unhandled envelope", "reason", reason)
			}
		},
	}
	return m
}

// OnAnyErrorStart registers a handler invoked for every errorStart across
// every Session this Manager owns, regardless of whether a Helper-local
// handler also fired.
func (m *Manager) OnAnyErrorStart(fn func(entityKind, conversationID, entityID string, ev protocol.ErrorStart)) {
	m.onAnyErrorStart = fn
}

// OnAnyErrorEnd registers the errorEnd counterpart of OnAnyErrorStart.
func (m *Manager) OnAnyErrorEnd(fn func(entityKind, conversationID, entityID string, ev protocol.ErrorEnd)) {
	m.onAnyErrorEnd = fn
}

// OnUnhandledErrorStart registers a handler invoked only when no
// Helper-local onErrorStart handler was registered for the errorStart.
func (m *Manager) OnUnhandledErrorStart(fn func(entityKind, conversationID, entityID string, ev protocol.ErrorStart)) {
	m.onUnhandledErrorStart = fn
}

// OnUnhandledErrorEnd registers the errorEnd counterpart.
func (m *Manager) OnUnhandledErrorEnd(fn func(entityKind, conversationID, entityID string, ev protocol.ErrorEnd)) {
	m.onUnhandledErrorEnd = fn
}

// OnUnhandledEnvelope registers a handler invoked when routing finds no
// addressee for an inbound envelope.
func (m *Manager) OnUnhandledEnvelope(fn func(reason string, raw any)) {
	m.onUnhandledEnvelope = fn
}

func (m *Manager) genID() string {
	if m.idGen != nil {
		return m.idGen()
	}
	return uuid.NewString()
}

// Session looks up a live session by conversation id.
func (m *Manager) Session(conversationID string) (*convo.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[conversationID]
	return s, ok
}

// Sessions returns a snapshot of every session currently tracked.
func (m *Manager) Sessions() []*convo.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*convo.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}

// StartSession opens a new, caller-originated session.
func (m *Manager) StartSession(conversationID string, metadata map[string]any) (*convo.Session, error) {
	m.mu.Lock()
	if _, exists := m.sessions[conversationID]; exists {
		m.mu.Unlock()
		return nil, protocol.InvalidOperation("session " + conversationID + " already exists")
	}
	m.mu.Unlock()

	start := &protocol.StartSessionEvent{ConversationID: conversationID, Metadata: metadata}
	session := m.newSession(conversationID, start)

	m.mu.Lock()
	m.sessions[conversationID] = session
	m.mu.Unlock()
	m.metrics.HelperCreated("session")
	m.metrics.SetActiveSessions(len(m.sessions))

	if err := m.emitter.Emit(protocol.ConversationEnvelope{ConversationID: conversationID, StartSession: start}); err != nil {
		return nil, err
	}
	return session, nil
}

func (m *Manager) newSession(conversationID string, start *protocol.StartSessionEvent) *convo.Session {
	ctx := &convo.Context{
		IDGen:          m.genID,
		Logger:         m.logger,
		Metrics:        m.metrics,
		Sinks:          m.sinks,
		Connected:      m.connected,
		ConversationID: conversationID,
	}
	return convo.NewSession(ctx, conversationID, start, func(env protocol.ConversationEnvelope) error {
		return m.emitter.Emit(env)
	}, func() { m.removeSession(conversationID) }, m.fetcher)
}

func (m *Manager) removeSession(conversationID string) {
	m.mu.Lock()
	delete(m.sessions, conversationID)
	count := len(m.sessions)
	m.mu.Unlock()
	m.metrics.SetActiveSessions(count)
}

// SetSessionStatus propagates the Transport's current connection status to
// every session this Manager tracks. It is the Manager's responsibility to
// wire Transport status changes here — Session itself has no transport
// awareness.
func (m *Manager) SetSessionStatus(status protocol.ConnectionStatus) {
	for _, s := range m.Sessions() {
		s.SetConnectionStatus(status)
	}
	m.metrics.SetConnectionStatus(int(status))
}

// Dispatch routes one inbound ConversationEnvelope: lookup by
// conversationId, creating a Session on an inbound startSession for an
// unknown conversation, else routing to the unhandled-envelope sink.
func (m *Manager) Dispatch(env protocol.ConversationEnvelope) {
	m.mu.Lock()
	session, ok := m.sessions[env.ConversationID]
	m.mu.Unlock()

	if !ok {
		if env.StartSession == nil {
			m.sinks.UnhandledEnvelope("conversation", env)
			return
		}
		session = m.newSession(env.ConversationID, env.StartSession)
		m.mu.Lock()
		m.sessions[env.ConversationID] = session
		m.mu.Unlock()
		m.metrics.HelperCreated("session")
		m.metrics.SetActiveSessions(len(m.Sessions()))
	}
	session.Dispatch(env)
}
