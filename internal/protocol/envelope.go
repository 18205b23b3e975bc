// Package protocol defines the wire shapes exchanged between the session
// runtime and the remote agent, and validates them against JSON schema
// before they reach dispatch.
//
// Every level of the envelope tree carries exactly one identifier key and at
// most one payload key from its allowed set. The nesting mirrors the Helper
// tree: ConversationEnvelope wraps ExchangeEnvelope wraps MessageEnvelope
// wraps ToolCallEnvelope, with async streams and async tool calls hanging
// directly off the conversation level.
package protocol

import "encoding/json"

// ErrorStart is the payload of a startError event: a new, unrecovered error
// on the entity that received it.
type ErrorStart struct {
	ErrorID string          `json:"errorId"`
	Message string          `json:"message"`
	Code    string          `json:"code,omitempty"`
	Details json.RawMessage `json:"details,omitempty"`
}

// ErrorEnd is the payload of an endError event: recovery of a previously
// started error, identified by ErrorID.
type ErrorEnd struct {
	ErrorID string `json:"errorId"`
}

// ErrorEnvelope is the tagged {startError|endError} shape reused at every
// level that can carry an error (session, exchange, message, toolCall,
// stream).
type ErrorEnvelope struct {
	StartError *ErrorStart `json:"startError,omitempty"`
	EndError   *ErrorEnd   `json:"endError,omitempty"`
}

// StartSessionEvent is the payload that opens a Session, either sent by the
// caller or received from the server for a previously unknown conversation.
type StartSessionEvent struct {
	ConversationID string         `json:"conversationId"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// EndSessionEvent closes a Session. It carries no fields beyond the
// identifier already present on ConversationEnvelope.
type EndSessionEvent struct{}

// ConversationEnvelope is the outermost, Session-scoped envelope. Exactly one
// of the pointer fields below should be set; StartSession/EndSession are
// lifecycle markers rather than payload-bearing fields but are modeled the
// same way for a uniform dispatch table.
type ConversationEnvelope struct {
	ConversationID    string             `json:"conversationId"`
	SessionError      *ErrorEnvelope     `json:"sessionError,omitempty"`
	Exchange          *ExchangeEnvelope  `json:"exchange,omitempty"`
	AsyncOutputStream *StreamEnvelope    `json:"asyncOutputStream,omitempty"`
	AsyncInputStream  *StreamEnvelope    `json:"asyncInputStream,omitempty"`
	AsyncToolCall     *ToolCallEnvelope  `json:"asyncToolCall,omitempty"`
	MetaEvent         json.RawMessage    `json:"metaEvent,omitempty"`
	StartSession      *StartSessionEvent `json:"startSession,omitempty"`
	EndSession        *EndSessionEvent   `json:"endSession,omitempty"`
}

// StartExchangeEvent opens an Exchange. Opts is caller-supplied and opaque to
// the runtime beyond the identifier.
type StartExchangeEvent struct {
	ExchangeID string         `json:"exchangeId"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// EndExchangeEvent closes an Exchange.
type EndExchangeEvent struct{}

// ExchangeEnvelope is the Exchange-scoped envelope, nested under a
// ConversationEnvelope's Exchange field.
type ExchangeEnvelope struct {
	ExchangeID    string              `json:"exchangeId"`
	StartExchange *StartExchangeEvent `json:"startExchange,omitempty"`
	EndExchange   *EndExchangeEvent   `json:"endExchange,omitempty"`
	Message       *MessageEnvelope    `json:"message,omitempty"`
	ExchangeError *ErrorEnvelope      `json:"exchangeError,omitempty"`
	MetaEvent     json.RawMessage     `json:"metaEvent,omitempty"`
}

// MessageRole is fixed at message start and never changes.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
)

// StartMessageEvent opens a Message.
type StartMessageEvent struct {
	MessageID string         `json:"messageId"`
	Role      MessageRole    `json:"role"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// EndMessageEvent closes a Message.
type EndMessageEvent struct{}

// ContentPartEvent is the immutable leaf payload dispatched for a piece of
// message content. It never becomes a Helper in its own right.
type ContentPartEvent struct {
	ContentPartID string      `json:"contentPartId"`
	MimeType      string      `json:"mimeType"`
	Data          ContentData `json:"data"`
	Citations     []Citation  `json:"citations,omitempty"`
	IsTranscript  bool        `json:"isTranscript,omitempty"`
	IsIncomplete  bool        `json:"isIncomplete,omitempty"`
	Name          string      `json:"name,omitempty"`
	CreatedTime   string      `json:"createdTime,omitempty"`
	UpdatedTime   string      `json:"updatedTime,omitempty"`
}

// ContentData is either inline content or a reference to externally fetched
// content; exactly one of Inline/URI is populated.
type ContentData struct {
	Inline    *string `json:"inline,omitempty"`
	URI       *string `json:"uri,omitempty"`
	ByteCount *int64  `json:"byteCount,omitempty"`
}

// Citation references the source material backing a span of content.
type Citation struct {
	CitationID string   `json:"citationId"`
	Offset     int      `json:"offset"`
	Length     int      `json:"length"`
	Sources    []string `json:"sources,omitempty"`
}

// MessageEnvelope is the Message-scoped envelope, nested under an
// ExchangeEnvelope's Message field.
type MessageEnvelope struct {
	MessageID    string             `json:"messageId"`
	StartMessage *StartMessageEvent `json:"startMessage,omitempty"`
	EndMessage   *EndMessageEvent   `json:"endMessage,omitempty"`
	ToolCall     *ToolCallEnvelope  `json:"toolCall,omitempty"`
	ContentPart  *ContentPartEvent  `json:"contentPart,omitempty"`
	MessageError *ErrorEnvelope     `json:"messageError,omitempty"`
	MetaEvent    json.RawMessage    `json:"metaEvent,omitempty"`
}

// StartToolCallEvent opens a ToolCall, whether nested in a Message or
// addressed directly as a Session-scoped async tool call.
type StartToolCallEvent struct {
	ToolCallID string          `json:"toolCallId"`
	ToolName   string          `json:"toolName"`
	Input      json.RawMessage `json:"input,omitempty"`
	Metadata   map[string]any  `json:"metadata,omitempty"`
}

// ToolCallResult is the optional outcome attached to an end-tool-call event.
type ToolCallResult struct {
	Output    json.RawMessage `json:"output,omitempty"`
	IsError   bool            `json:"isError,omitempty"`
	Cancelled bool            `json:"cancelled,omitempty"`
}

// EndToolCallEvent closes a ToolCall, optionally carrying its result.
type EndToolCallEvent struct {
	Result *ToolCallResult `json:"result,omitempty"`
}

// ToolCallEnvelope addresses a ToolCall, nested under either a
// MessageEnvelope (exchange-scoped) or a ConversationEnvelope
// (session-scoped async tool call) — the shape is identical in both cases.
type ToolCallEnvelope struct {
	ToolCallID    string              `json:"toolCallId"`
	StartToolCall *StartToolCallEvent `json:"startToolCall,omitempty"`
	EndToolCall   *EndToolCallEvent   `json:"endToolCall,omitempty"`
	ToolCallError *ErrorEnvelope      `json:"toolCallError,omitempty"`
	MetaEvent     json.RawMessage     `json:"metaEvent,omitempty"`
}

// StartStreamEvent opens a Session-scoped async output/input stream.
type StartStreamEvent struct {
	StreamID string         `json:"streamId"`
	MimeType string         `json:"mimeType,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// EndStreamEvent closes a stream.
type EndStreamEvent struct{}

// StreamChunkEvent carries one chunk of streamed content.
type StreamChunkEvent struct {
	Data         string `json:"data"`
	IsIncomplete bool   `json:"isIncomplete,omitempty"`
}

// StreamEnvelope addresses an AsyncOutputStream or AsyncInputStream.
type StreamEnvelope struct {
	StreamID    string            `json:"streamId"`
	StartStream *StartStreamEvent `json:"startStream,omitempty"`
	EndStream   *EndStreamEvent   `json:"endStream,omitempty"`
	Chunk       *StreamChunkEvent `json:"chunk,omitempty"`
	StreamError *ErrorEnvelope    `json:"streamError,omitempty"`
	MetaEvent   json.RawMessage   `json:"metaEvent,omitempty"`
}
