// Package convo implements the Helper tree: Session, Exchange, Message,
// ToolCall, the Session-scoped async streams/tool-call, and the immutable
// ContentPart value object. Every concrete type embeds *entity.Base for the
// shared lifecycle machinery and adds its own children map, send-*, and
// dispatch logic on top of it.
package convo

import (
	"github.com/agentflow/convruntime/internal/observability"
	"github.com/agentflow/convruntime/internal/protocol"
)

// Sinks are the Manager's cross-cutting handlers, reachable from anywhere in
// the tree so a deeply nested Helper can route an unrecovered error or an
// unaddressable envelope up to the root without climbing parent pointers.
type Sinks struct {
	AnyErrorStart       func(entityKind, conversationID, entityID string, ev protocol.ErrorStart)
	AnyErrorEnd         func(entityKind, conversationID, entityID string, ev protocol.ErrorEnd)
	UnhandledErrorStart func(entityKind, conversationID, entityID string, ev protocol.ErrorStart)
	UnhandledErrorEnd   func(entityKind, conversationID, entityID string, ev protocol.ErrorEnd)
	UnhandledEnvelope   func(reason string, raw any)
}

// Context bundles everything every Helper in a Session's subtree needs but
// that isn't specific to its own level: id generation, logging, metrics, the
// Manager's sinks, a live read of the Session's connection status, and the
// conversation id of the Session this Context was built for (so a deeply
// nested Helper can report through Sinks without climbing parent pointers).
type Context struct {
	IDGen          func() string
	Logger         *observability.Logger
	Metrics        *observability.Metrics
	Sinks          *Sinks
	Connected      func() bool
	ConversationID string
}

// handleErrorEnvelope is the shared errorStart/errorEnd routing logic used
// by Session, Exchange, Message, ToolCall, and AsyncStream dispatch: add or
// remove from the local error set, fire the local handler if registered,
// and always notify the Manager's any-error sink; fall through to the
// Manager's unhandled-error sink only when nothing local was listening.
func handleErrorEnvelope(ctx *Context, kind, id string, errs errorTarget, ee *protocol.ErrorEnvelope, fire func(event string, payload any)) {
	if ee == nil {
		return
	}
	if ee.StartError != nil {
		errs.AddError(*ee.StartError)
		ctx.Metrics.ErrorStarted(kind)
		hadLocal := errs.HandlerCount("errorStart") > 0
		fire("errorStart", *ee.StartError)
		if ctx.Sinks != nil && ctx.Sinks.AnyErrorStart != nil {
			ctx.Sinks.AnyErrorStart(kind, ctx.ConversationID, id, *ee.StartError)
		}
		if !hadLocal && ctx.Sinks != nil && ctx.Sinks.UnhandledErrorStart != nil {
			ctx.Sinks.UnhandledErrorStart(kind, ctx.ConversationID, id, *ee.StartError)
		}
	}
	if ee.EndError != nil {
		hadLocal := errs.HandlerCount("errorEnd") > 0
		errs.RemoveError(ee.EndError.ErrorID)
		ctx.Metrics.ErrorEnded(kind)
		fire("errorEnd", *ee.EndError)
		if ctx.Sinks != nil && ctx.Sinks.AnyErrorEnd != nil {
			ctx.Sinks.AnyErrorEnd(kind, ctx.ConversationID, id, *ee.EndError)
		}
		if !hadLocal && ctx.Sinks != nil && ctx.Sinks.UnhandledErrorEnd != nil {
			ctx.Sinks.UnhandledErrorEnd(kind, ctx.ConversationID, id, *ee.EndError)
		}
	}
}

// errorTarget is the subset of *entity.Base that error handling needs.
type errorTarget interface {
	AddError(protocol.ErrorStart)
	RemoveError(string)
	HandlerCount(string) int
}
