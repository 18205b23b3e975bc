// Package entity provides the shared lifecycle machinery every protocol
// entity (Session, Exchange, Message, ToolCall, async streams/tool-calls)
// is built on: start-event storage, handler registration with
// snapshot-on-iteration fan-out, an error set, a properties bag, and the
// ended/deleted/paused state machine. Concrete entity types in
// internal/convo embed *Base and add their own children maps and
// send-*/dispatch methods on top of it.
package entity

import (
	"log/slog"
	"sync"

	"github.com/agentflow/convruntime/internal/protocol"
)

// Base carries the attributes every Helper has, independent of what kind of
// entity it represents. It is deliberately ignorant of child types: a
// Session's children are Exchanges and async streams, an Exchange's
// children are Messages, and so on, but none of that shape belongs here.
type Base struct {
	mu sync.Mutex

	id         string
	startEvent any
	hasStart   bool

	ended   bool
	deleted bool

	deletedFired bool
	paused       bool

	errors     map[string]protocol.ErrorStart
	properties map[string]any

	handlers  map[string][]handlerEntry
	nextRegID uint64

	onDeleted []func()

	removeFromParent func()

	logger *slog.Logger
}

type handlerEntry struct {
	id uint64
	fn func(any)
}

// New constructs a Base. startEvent/hasStart record the payload the entity
// was opened with, if any — a replayed entity with no recorded start payload
// passes hasStart=false, and later StartEvent() calls fail validation.
// removeFromParent is called exactly once, when the entity is deleted, so it
// can unlink itself from its parent's children map; it may be nil for roots.
func New(id string, startEvent any, hasStart bool, removeFromParent func(), logger *slog.Logger) *Base {
	if logger == nil {
		logger = slog.Default()
	}
	return &Base{
		id:               id,
		startEvent:       startEvent,
		hasStart:         hasStart,
		errors:           make(map[string]protocol.ErrorStart),
		properties:       make(map[string]any),
		handlers:         make(map[string][]handlerEntry),
		removeFromParent: removeFromParent,
		logger:           logger,
	}
}

// ID returns the entity's identifier, stable within its parent's scope.
func (b *Base) ID() string { return b.id }

// StartEvent returns the entity's original start payload. If the entity was
// rehydrated (by replay) without a recorded start event, it returns a
// KindValidation error instead — callers that can tolerate a missing start
// event should use StartEventMaybe.
func (b *Base) StartEvent() (any, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.hasStart {
		return nil, protocol.Validation("startEvent accessed on a helper with no recorded start payload")
	}
	return b.startEvent, nil
}

// StartEventMaybe returns the start payload and whether one was recorded.
func (b *Base) StartEventMaybe() (any, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.startEvent, b.hasStart
}

// Ended reports whether endX has been sent or received for this entity.
func (b *Base) Ended() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ended
}

// Deleted reports whether cleanup has completed for this entity.
func (b *Base) Deleted() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.deleted
}

// Paused reports whether inbound dispatch is currently buffering instead of
// firing handlers.
func (b *Base) Paused() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.paused
}

// Pause sets paused=true. Idempotent.
func (b *Base) Pause() {
	b.mu.Lock()
	b.paused = true
	b.mu.Unlock()
}

// SetResumed clears paused. Buffer draining is the concrete type's
// responsibility (it owns the typed buffer of pending envelopes); this only
// flips the flag so new dispatch calls stop queuing.
func (b *Base) SetResumed() {
	b.mu.Lock()
	b.paused = false
	b.mu.Unlock()
}

// AssertLive returns a KindInvalidOperation error if the entity has already
// ended. Every send-* (other than the terminating end-send itself) must call
// this before doing anything observable.
func (b *Base) AssertLive() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ended {
		return protocol.InvalidOperation("operation attempted on an ended helper " + b.id)
	}
	return nil
}

// MarkEnded flips ended to true. Returns a KindInvalidOperation error if
// already ended — callers use this to guard the double-end case.
func (b *Base) MarkEnded() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ended {
		return protocol.InvalidOperation("endX sent or received twice for helper " + b.id)
	}
	b.ended = true
	return nil
}

// ForceEnd marks ended without erroring if it already was — used when a
// parent cascades a delete down to a child that never received an explicit
// endX on the wire.
func (b *Base) ForceEnd() {
	b.mu.Lock()
	b.ended = true
	b.mu.Unlock()
}

// Delete marks the entity deleted, unlinks it from its parent, and fires
// onDeleted handlers exactly once. Safe to call multiple times; only the
// first call has any effect.
func (b *Base) Delete() {
	b.mu.Lock()
	if b.deletedFired {
		b.mu.Unlock()
		return
	}
	b.deleted = true
	b.deletedFired = true
	remove := b.removeFromParent
	fns := make([]func(), len(b.onDeleted))
	copy(fns, b.onDeleted)
	b.mu.Unlock()

	if remove != nil {
		remove()
	}
	for _, fn := range fns {
		safeInvoke(b.logger, "onDeleted", fn)
	}
}

// OnDeleted registers a listener fired exactly once when Delete runs. If the
// entity is already deleted, the listener fires immediately (synchronously,
// from the caller's goroutine) rather than being silently dropped.
func (b *Base) OnDeleted(fn func()) (unregister func()) {
	b.mu.Lock()
	if b.deletedFired {
		b.mu.Unlock()
		fn()
		return func() {}
	}
	b.onDeleted = append(b.onDeleted, fn)
	idx := len(b.onDeleted) - 1
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if idx < len(b.onDeleted) {
			b.onDeleted[idx] = func() {}
		}
	}
}

// HasError reports whether this entity (not its children) has any
// unrecovered error.
func (b *Base) HasError() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.errors) > 0
}

// Errors returns a snapshot copy of the unrecovered error set.
func (b *Base) Errors() map[string]protocol.ErrorStart {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]protocol.ErrorStart, len(b.errors))
	for k, v := range b.errors {
		out[k] = v
	}
	return out
}

// AddError records a new unrecovered error (errorStart).
func (b *Base) AddError(ev protocol.ErrorStart) {
	b.mu.Lock()
	b.errors[ev.ErrorID] = ev
	b.mu.Unlock()
}

// RemoveError clears a recovered error (errorEnd). No-op if unknown.
func (b *Base) RemoveError(errorID string) {
	b.mu.Lock()
	delete(b.errors, errorID)
	b.mu.Unlock()
}

// SetProperties shallow-merges patch into the properties bag.
func (b *Base) SetProperties(patch map[string]any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for k, v := range patch {
		b.properties[k] = v
	}
}

// Properties returns the live properties map. The protocol assigns it no
// semantics; callers may store and retrieve whatever they like.
func (b *Base) Properties() map[string]any {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.properties
}

// On registers a handler for the named event kind ("metaEvent",
// "errorStart", "endExchange", ...). Handlers fire in registration order.
// Returns an unregister function.
func (b *Base) On(event string, fn func(any)) (unregister func()) {
	b.mu.Lock()
	id := b.nextRegID
	b.nextRegID++
	b.handlers[event] = append(b.handlers[event], handlerEntry{id: id, fn: fn})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		list := b.handlers[event]
		for i, e := range list {
			if e.id == id {
				b.handlers[event] = append(list[:i:i], list[i+1:]...)
				return
			}
		}
	}
}

// Fire dispatches payload to every handler registered for event, using a
// snapshot of the handler list taken before the first invocation so that a
// handler adding or removing a listener for the same event during its own
// call does not corrupt the current fan-out.
func (b *Base) Fire(event string, payload any) {
	b.mu.Lock()
	list := b.handlers[event]
	snapshot := make([]handlerEntry, len(list))
	copy(snapshot, list)
	logger := b.logger
	b.mu.Unlock()

	for _, e := range snapshot {
		safeInvoke(logger, event, func() { e.fn(payload) })
	}
}

// HandlerCount returns the number of currently registered handlers for
// event; error routing uses it to decide whether to fall through to the
// Manager's unhandled-error sink.
func (b *Base) HandlerCount(event string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.handlers[event])
}

func safeInvoke(logger *slog.Logger, event string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("handler panicked", "event", event, "recover", r)
		}
	}()
	fn()
}
