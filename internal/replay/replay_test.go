package replay

import (
	"testing"

	"github.com/agentflow/convruntime/internal/restapi"
)

func TestToolCall_EndedWithResult(t *testing.T) {
	record := restapi.ToolCallRecord{
		ToolCallID: "tc1",
		ToolName:   "search",
		Input:      []byte(`{"q":"weather"}`),
		Output:     []byte(`{"temp":72}`),
		IsError:    false,
		Ended:      true,
	}

	envs := ToolCall(record)
	if len(envs) != 2 {
		t.Fatalf("len(envs) = %d, want 2 (start+end)", len(envs))
	}
	if envs[0].StartToolCall == nil || envs[0].StartToolCall.ToolName != "search" {
		t.Fatalf("envs[0].StartToolCall = %+v, want ToolName=search", envs[0].StartToolCall)
	}
	if envs[1].EndToolCall == nil || envs[1].EndToolCall.Result == nil {
		t.Fatal("envs[1].EndToolCall.Result = nil, want non-nil")
	}
	if envs[1].EndToolCall.Result.IsError {
		t.Error("Result.IsError = true, want false")
	}
}

func TestToolCall_NotEnded_OnlyStart(t *testing.T) {
	record := restapi.ToolCallRecord{ToolCallID: "tc1", ToolName: "search", Ended: false}
	envs := ToolCall(record)
	if len(envs) != 1 {
		t.Fatalf("len(envs) = %d, want 1 (start only)", len(envs))
	}
	if envs[0].StartToolCall == nil {
		t.Fatal("envs[0].StartToolCall = nil")
	}
}

func TestMessage_FullSequenceOrder(t *testing.T) {
	record := restapi.MessageRecord{
		MessageID: "m1",
		Role:      "assistant",
		ContentParts: []restapi.ContentPartRecord{
			{ContentPartID: "cp1", MimeType: "text/plain", Inline: "hello"},
		},
		ToolCalls: []restapi.ToolCallRecord{
			{ToolCallID: "tc1", ToolName: "search", Ended: true},
		},
		Ended: true,
	}

	envs := Message(record)
	// start, contentPart, toolCall-start, toolCall-end, end
	if len(envs) != 5 {
		t.Fatalf("len(envs) = %d, want 5", len(envs))
	}
	if envs[0].StartMessage == nil {
		t.Error("envs[0] should be startMessage")
	}
	if envs[1].ContentPart == nil || *envs[1].ContentPart.Data.Inline != "hello" {
		t.Errorf("envs[1] = %+v, want contentPart with inline=hello", envs[1].ContentPart)
	}
	if envs[2].ToolCall == nil || envs[2].ToolCall.StartToolCall == nil {
		t.Error("envs[2] should be toolCall start")
	}
	if envs[3].ToolCall == nil || envs[3].ToolCall.EndToolCall == nil {
		t.Error("envs[3] should be toolCall end")
	}
	if envs[4].EndMessage == nil {
		t.Error("envs[4] should be endMessage")
	}
}

func TestConversation_UnendedOmitsEndSession(t *testing.T) {
	record := &restapi.ConversationRecord{
		ConversationID: "c1",
		Ended:          false,
	}
	envs := Conversation(record)
	if len(envs) != 1 {
		t.Fatalf("len(envs) = %d, want 1 (startSession only)", len(envs))
	}
	if envs[0].StartSession == nil {
		t.Fatal("envs[0].StartSession = nil")
	}
}

func TestConversation_NestedExchangeIDsPropagate(t *testing.T) {
	record := &restapi.ConversationRecord{
		ConversationID: "c1",
		Exchanges: []restapi.ExchangeRecord{
			{ExchangeID: "e1", Ended: true},
		},
		Ended: true,
	}
	envs := Conversation(record)
	// startSession, exchange-start, exchange-end, endSession
	if len(envs) != 4 {
		t.Fatalf("len(envs) = %d, want 4", len(envs))
	}
	for _, env := range envs {
		if env.ConversationID != "c1" {
			t.Errorf("ConversationID = %q, want c1", env.ConversationID)
		}
	}
	if envs[1].Exchange == nil || envs[1].Exchange.ExchangeID != "e1" {
		t.Errorf("envs[1].Exchange = %+v, want ExchangeID=e1", envs[1].Exchange)
	}
}

func TestConversation_Nil(t *testing.T) {
	if got := Conversation(nil); got != nil {
		t.Errorf("Conversation(nil) = %v, want nil", got)
	}
}

func TestContentPartEvent_URIOnly(t *testing.T) {
	record := restapi.ContentPartRecord{
		ContentPartID: "cp1",
		MimeType:      "image/png",
		URI:           "https://example.com/a.png",
	}
	ev := contentPartEvent(record)
	if ev.Data.Inline != nil {
		t.Error("Data.Inline should be nil when record has no inline content")
	}
	if ev.Data.URI == nil || *ev.Data.URI != "https://example.com/a.png" {
		t.Errorf("Data.URI = %v, want https://example.com/a.png", ev.Data.URI)
	}
}
