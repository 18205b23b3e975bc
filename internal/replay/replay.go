// Package replay turns a historical ConversationRecord (fetched over REST)
// into the exact sequence of synthetic envelopes that would have produced
// it live, so a freshly constructed Session can rehydrate by dispatching
// them through the same path as real traffic. No Helper in internal/convo
// is aware that its input is synthetic.
package replay

import (
	"github.com/agentflow/convruntime/internal/protocol"
	"github.com/agentflow/convruntime/internal/restapi"
)

// Conversation yields the envelope sequence for an entire conversation:
// startSession, then every exchange's sequence in recorded order, then
// endSession if the record shows the conversation ended.
func Conversation(record *restapi.ConversationRecord) []protocol.ConversationEnvelope {
	if record == nil {
		return nil
	}
	var out []protocol.ConversationEnvelope

	out = append(out, protocol.ConversationEnvelope{
		ConversationID: record.ConversationID,
		StartSession: &protocol.StartSessionEvent{
			ConversationID: record.ConversationID,
			Metadata:       record.Metadata,
		},
	})

	for _, ex := range record.Exchanges {
		for _, env := range Exchange(ex) {
			out = append(out, protocol.ConversationEnvelope{
				ConversationID: record.ConversationID,
				Exchange:       &env,
			})
		}
	}

	if record.Ended {
		out = append(out, protocol.ConversationEnvelope{
			ConversationID: record.ConversationID,
			EndSession:     &protocol.EndSessionEvent{},
		})
	}
	return out
}

// Exchange yields one exchange's envelope sequence: startExchange, each
// message's sequence in recorded order, endExchange if the record shows it
// completed.
func Exchange(record restapi.ExchangeRecord) []protocol.ExchangeEnvelope {
	var out []protocol.ExchangeEnvelope

	out = append(out, protocol.ExchangeEnvelope{
		ExchangeID: record.ExchangeID,
		StartExchange: &protocol.StartExchangeEvent{
			ExchangeID: record.ExchangeID,
			Metadata:   record.Metadata,
		},
	})

	for _, msg := range record.Messages {
		for _, env := range Message(msg) {
			out = append(out, protocol.ExchangeEnvelope{
				ExchangeID: record.ExchangeID,
				Message:    &env,
			})
		}
	}

	if record.Ended {
		out = append(out, protocol.ExchangeEnvelope{
			ExchangeID:  record.ExchangeID,
			EndExchange: &protocol.EndExchangeEvent{},
		})
	}
	return out
}

// Message yields one message's envelope sequence: startMessage, each
// content part and tool call in recorded order, endMessage if completed.
func Message(record restapi.MessageRecord) []protocol.MessageEnvelope {
	var out []protocol.MessageEnvelope

	out = append(out, protocol.MessageEnvelope{
		MessageID: record.MessageID,
		StartMessage: &protocol.StartMessageEvent{
			MessageID: record.MessageID,
			Role:      protocol.MessageRole(record.Role),
			Metadata:  record.Metadata,
		},
	})

	for _, part := range record.ContentParts {
		out = append(out, protocol.MessageEnvelope{
			MessageID:   record.MessageID,
			ContentPart: contentPartEvent(part),
		})
	}

	for _, tc := range record.ToolCalls {
		for _, env := range ToolCall(tc) {
			out = append(out, protocol.MessageEnvelope{
				MessageID: record.MessageID,
				ToolCall:  &env,
			})
		}
	}

	if record.Ended {
		out = append(out, protocol.MessageEnvelope{
			MessageID:  record.MessageID,
			EndMessage: &protocol.EndMessageEvent{},
		})
	}
	return out
}

// ToolCall yields one tool call's envelope sequence: startToolCall, then
// endToolCall (carrying its recorded result) if it completed.
func ToolCall(record restapi.ToolCallRecord) []protocol.ToolCallEnvelope {
	out := []protocol.ToolCallEnvelope{{
		ToolCallID: record.ToolCallID,
		StartToolCall: &protocol.StartToolCallEvent{
			ToolCallID: record.ToolCallID,
			ToolName:   record.ToolName,
			Input:      record.Input,
		},
	}}

	if record.Ended {
		out = append(out, protocol.ToolCallEnvelope{
			ToolCallID: record.ToolCallID,
			EndToolCall: &protocol.EndToolCallEvent{
				Result: &protocol.ToolCallResult{
					Output:  record.Output,
					IsError: record.IsError,
				},
			},
		})
	}
	return out
}

func contentPartEvent(record restapi.ContentPartRecord) *protocol.ContentPartEvent {
	data := protocol.ContentData{}
	if record.Inline != "" {
		data.Inline = &record.Inline
	}
	if record.URI != "" {
		data.URI = &record.URI
	}
	return &protocol.ContentPartEvent{
		ContentPartID: record.ContentPartID,
		MimeType:      record.MimeType,
		Data:          data,
	}
}
