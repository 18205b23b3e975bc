package protocol

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// conversationEnvelopeSchema constrains a ConversationEnvelope to at most one
// payload key besides its identifier, matching the "one of" shape in the
// data model: a malformed envelope with two payload keys set is rejected
// before it ever reaches dispatch. An envelope carrying only its identifier
// passes.
const conversationEnvelopeSchema = `{
	"type": "object",
	"required": ["conversationId"],
	"maxProperties": 2,
	"properties": {
		"conversationId": {"type": "string", "minLength": 1},
		"sessionError": {"type": "object"},
		"exchange": {"type": "object"},
		"asyncOutputStream": {"type": "object"},
		"asyncInputStream": {"type": "object"},
		"asyncToolCall": {"type": "object"},
		"metaEvent": {},
		"startSession": {"type": "object"},
		"endSession": {"type": "object"}
	}
}`

const exchangeEnvelopeSchema = `{
	"type": "object",
	"required": ["exchangeId"],
	"properties": {
		"exchangeId": {"type": "string", "minLength": 1},
		"startExchange": {"type": "object"},
		"endExchange": {"type": "object"},
		"message": {"type": "object"},
		"exchangeError": {"type": "object"},
		"metaEvent": {}
	}
}`

const messageEnvelopeSchema = `{
	"type": "object",
	"required": ["messageId"],
	"properties": {
		"messageId": {"type": "string", "minLength": 1},
		"startMessage": {
			"type": "object",
			"required": ["messageId", "role"],
			"properties": {
				"role": {"enum": ["user", "assistant", "system"]}
			}
		},
		"endMessage": {"type": "object"},
		"toolCall": {"type": "object"},
		"contentPart": {"type": "object"},
		"messageError": {"type": "object"},
		"metaEvent": {}
	}
}`

const toolCallEnvelopeSchema = `{
	"type": "object",
	"required": ["toolCallId"],
	"properties": {
		"toolCallId": {"type": "string", "minLength": 1},
		"startToolCall": {
			"type": "object",
			"required": ["toolCallId", "toolName"]
		},
		"endToolCall": {"type": "object"},
		"toolCallError": {"type": "object"},
		"metaEvent": {}
	}
}`

const streamEnvelopeSchema = `{
	"type": "object",
	"required": ["streamId"],
	"properties": {
		"streamId": {"type": "string", "minLength": 1},
		"startStream": {"type": "object"},
		"endStream": {"type": "object"},
		"chunk": {"type": "object"},
		"streamError": {"type": "object"},
		"metaEvent": {}
	}
}`

type schemaRegistry struct {
	once    sync.Once
	initErr error
	byLevel map[string]*jsonschema.Schema
}

var schemas schemaRegistry

func initSchemas() error {
	schemas.once.Do(func() {
		raw := map[string]string{
			"conversation": conversationEnvelopeSchema,
			"exchange":     exchangeEnvelopeSchema,
			"message":      messageEnvelopeSchema,
			"toolCall":     toolCallEnvelopeSchema,
			"stream":       streamEnvelopeSchema,
		}
		schemas.byLevel = make(map[string]*jsonschema.Schema, len(raw))
		for name, src := range raw {
			compiled, err := jsonschema.CompileString("envelope_"+name, src)
			if err != nil {
				schemas.initErr = err
				return
			}
			schemas.byLevel[name] = compiled
		}
	})
	return schemas.initErr
}

// ValidateConversationEnvelope validates a raw inbound message against the
// ConversationEnvelope schema before it is unmarshalled into typed structs
// and handed to the manager's dispatch path.
func ValidateConversationEnvelope(raw []byte) error {
	return validateLevel("conversation", raw)
}

// ValidateExchangeEnvelope validates a nested exchange fragment, used by
// tests and by replay when synthesizing envelopes by hand.
func ValidateExchangeEnvelope(raw []byte) error {
	return validateLevel("exchange", raw)
}

// ValidateMessageEnvelope validates a nested message fragment.
func ValidateMessageEnvelope(raw []byte) error {
	return validateLevel("message", raw)
}

// ValidateToolCallEnvelope validates a nested tool-call fragment.
func ValidateToolCallEnvelope(raw []byte) error {
	return validateLevel("toolCall", raw)
}

// ValidateStreamEnvelope validates a nested stream fragment.
func ValidateStreamEnvelope(raw []byte) error {
	return validateLevel("stream", raw)
}

func validateLevel(level string, raw []byte) error {
	if err := initSchemas(); err != nil {
		return Network("envelope schema compilation failed", err)
	}
	schema := schemas.byLevel[level]
	if schema == nil {
		return fmt.Errorf("no schema registered for envelope level %q", level)
	}
	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return Validation("malformed envelope json: " + err.Error())
	}
	if err := schema.Validate(payload); err != nil {
		return Validation("envelope failed schema validation: " + err.Error())
	}
	return nil
}
