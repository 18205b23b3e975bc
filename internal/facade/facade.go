// Package facade binds the Manager to an authenticated Transport and a
// ConversationRestClient, exposing create/get/update/delete REST operations
// alongside startSession/getSession/endSession on top of the Manager — the
// single entry point an application embeds this module through.
package facade

import (
	"context"
	"io"

	"github.com/agentflow/convruntime/internal/config"
	"github.com/agentflow/convruntime/internal/convo"
	"github.com/agentflow/convruntime/internal/manager"
	"github.com/agentflow/convruntime/internal/observability"
	"github.com/agentflow/convruntime/internal/protocol"
	"github.com/agentflow/convruntime/internal/replay"
	"github.com/agentflow/convruntime/internal/restapi"
	"github.com/agentflow/convruntime/internal/tokenauth"
	"github.com/agentflow/convruntime/internal/transport"
)

// Service is the top-level object an application constructs: one Transport,
// one Manager, one REST client, wired together.
type Service struct {
	transport *transport.Transport
	manager   *manager.Manager
	rest      restapi.ConversationRestClient
	metrics   *observability.Metrics
	logger    *observability.Logger
}

// New builds a Service, wiring the Transport's inbound envelopes directly
// into the Manager's Dispatch and the Manager's outbound envelopes directly
// into the Transport's Emit. Transport.onEnvelope is fixed at construction,
// so the Manager it targets is built in two steps: the Transport closes
// over a not-yet-assigned *manager.Manager, which is filled in immediately
// after New constructs it — by the time any envelope actually arrives, the
// closure's reference is live.
func New(cfg config.TransportConfig, tokenProvider tokenauth.TokenProvider, rest restapi.ConversationRestClient, logger *observability.Logger, metrics *observability.Metrics, transportOpts []transport.Option, managerOpts ...manager.Option) *Service {
	var m *manager.Manager
	t := transport.New(cfg, tokenProvider, func(env protocol.ConversationEnvelope) {
		m.Dispatch(env)
	}, logger, metrics, transportOpts...)

	m = manager.New(t, logger, metrics, managerOpts...)
	t.OnStatusChange(func(change transport.StatusChange) {
		m.SetSessionStatus(change.Status)
	})

	return &Service{transport: t, manager: m, rest: rest, metrics: metrics, logger: logger}
}

// Connect starts the transport's reconnect loop; inbound delivery into the
// Manager is already wired by New. It does not block; use EnsureConnected
// to wait for the first successful connection.
func (s *Service) Connect(ctx context.Context) {
	s.transport.Connect(ctx)
}

// EnsureConnected blocks until the transport reaches Connected.
func (s *Service) EnsureConnected(ctx context.Context) error {
	_, err := s.transport.GetConnectedSocket(ctx)
	return err
}

// Disconnect tears down the transport's current socket and reconnect loop.
func (s *Service) Disconnect() {
	s.transport.Disconnect()
}

// StartSession opens a new session against a live conversation id.
func (s *Service) StartSession(conversationID string, metadata map[string]any) (*convo.Session, error) {
	return s.manager.StartSession(conversationID, metadata)
}

// GetSession looks up a live, in-memory session.
func (s *Service) GetSession(conversationID string) (*convo.Session, bool) {
	return s.manager.Session(conversationID)
}

// EndSession terminates a live session by conversation id.
func (s *Service) EndSession(conversationID string) error {
	session, ok := s.manager.Session(conversationID)
	if !ok {
		return protocol.InvalidOperation("no live session for conversation " + conversationID)
	}
	return session.SendEndSession()
}

// Manager exposes the underlying Manager for callers that need the
// cross-cutting sinks (OnAnyErrorStart, OnUnhandledEnvelope, ...).
func (s *Service) Manager() *manager.Manager { return s.manager }

// CreateConversation creates a new conversation via the REST boundary.
func (s *Service) CreateConversation(ctx context.Context, agentID, folderID string, opts restapi.CreateOptions) (*restapi.ConversationRecord, error) {
	return s.rest.Create(ctx, agentID, folderID, opts)
}

// GetConversation fetches a conversation record via the REST boundary.
func (s *Service) GetConversation(ctx context.Context, id string) (*restapi.ConversationRecord, error) {
	return s.rest.GetByID(ctx, id)
}

// ListConversations lists conversation records via the REST boundary.
func (s *Service) ListConversations(ctx context.Context, opts restapi.ListOptions) ([]restapi.ConversationRecord, error) {
	return s.rest.GetAll(ctx, opts)
}

// UpdateConversation applies a partial patch via the REST boundary.
func (s *Service) UpdateConversation(ctx context.Context, id string, patch map[string]any) (*restapi.ConversationRecord, error) {
	return s.rest.UpdateByID(ctx, id, patch)
}

// DeleteConversation deletes a conversation via the REST boundary.
func (s *Service) DeleteConversation(ctx context.Context, id string) error {
	return s.rest.DeleteByID(ctx, id)
}

// UploadAttachment uploads a file attachment via the REST boundary.
func (s *Service) UploadAttachment(ctx context.Context, conversationID, filename string, content io.Reader) (*restapi.AttachmentResult, error) {
	return s.rest.UploadAttachment(ctx, conversationID, filename, content)
}

// Rehydrate fetches a conversation record and replays it into a fresh
// in-memory Session via the Manager's normal dispatch path — the resulting
// Helper tree is observationally identical to one built from live traffic.
func (s *Service) Rehydrate(ctx context.Context, conversationID string) (*convo.Session, error) {
	record, err := s.rest.GetByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	for _, env := range replay.Conversation(record) {
		s.metrics.ReplayedEnvelope(kindOf(env))
		s.manager.Dispatch(env)
	}
	session, ok := s.manager.Session(conversationID)
	if !ok {
		return nil, protocol.InvalidOperation("rehydrated conversation has no live session (record reported ended)")
	}
	return session, nil
}

func kindOf(env protocol.ConversationEnvelope) string {
	switch {
	case env.StartSession != nil, env.EndSession != nil:
		return "session"
	case env.Exchange != nil:
		return "exchange"
	default:
		return "conversation"
	}
}
