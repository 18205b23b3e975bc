package convo

import (
	"testing"

	"github.com/agentflow/convruntime/internal/protocol"
)

func newTestToolCall(t *testing.T, sinks *Sinks) (*ToolCall, *[]protocol.ToolCallEnvelope, *bool) {
	t.Helper()
	var sent []protocol.ToolCallEnvelope
	removed := false
	tc := newToolCall(testContext(sinks), "tc-1", &protocol.StartToolCallEvent{ToolCallID: "tc-1", ToolName: "search"}, func(ev protocol.ToolCallEnvelope) error {
		sent = append(sent, ev)
		return nil
	}, func() { removed = true })
	return tc, &sent, &removed
}

func TestToolCall_SendEndToolCall_CarriesResult(t *testing.T) {
	tc, sent, removed := newTestToolCall(t, nil)

	result := &protocol.ToolCallResult{Output: []byte(`{"temp":72}`)}
	if err := tc.SendEndToolCall(result); err != nil {
		t.Fatalf("SendEndToolCall() error = %v", err)
	}
	if !*removed {
		t.Error("removeFromParent not invoked")
	}
	last := (*sent)[len(*sent)-1]
	if last.EndToolCall == nil || last.EndToolCall.Result != result {
		t.Errorf("last envelope = %+v, want EndToolCall.Result = %v", last, result)
	}
}

func TestToolCall_Dispatch_EndToolCall_FiresHandlerAndEnds(t *testing.T) {
	tc, _, _ := newTestToolCall(t, nil)

	var got *protocol.EndToolCallEvent
	tc.OnEndToolCall(func(ev *protocol.EndToolCallEvent) { got = ev })

	tc.Dispatch(protocol.ToolCallEnvelope{
		ToolCallID:  "tc-1",
		EndToolCall: &protocol.EndToolCallEvent{Result: &protocol.ToolCallResult{IsError: true}},
	})

	if got == nil || !got.Result.IsError {
		t.Fatalf("OnEndToolCall fired with %v, want Result.IsError=true", got)
	}
	if !tc.Ended() || !tc.Deleted() {
		t.Error("tool call not ended/deleted after dispatching endToolCall")
	}
}

func TestToolCall_SendEndToolCall_AfterAlreadyEnded_Errors(t *testing.T) {
	tc, _, _ := newTestToolCall(t, nil)
	if err := tc.SendEndToolCall(nil); err != nil {
		t.Fatalf("first SendEndToolCall() error = %v", err)
	}
	if err := tc.SendEndToolCall(nil); !protocol.IsKind(err, protocol.KindInvalidOperation) {
		t.Fatalf("second SendEndToolCall() err = %v, want KindInvalidOperation", err)
	}
}

func TestToolCall_ErrorStart_AndEnd_RoundTrip(t *testing.T) {
	tc, _, _ := newTestToolCall(t, nil)

	var startSeen, endSeen bool
	tc.OnToolCallErrorStart(func(protocol.ErrorStart) { startSeen = true })
	tc.OnToolCallErrorEnd(func(protocol.ErrorEnd) { endSeen = true })

	tc.Dispatch(protocol.ToolCallEnvelope{ToolCallID: "tc-1", ToolCallError: &protocol.ErrorEnvelope{
		StartError: &protocol.ErrorStart{ErrorID: "e1", Message: "boom"},
	}})
	if !startSeen || !tc.HasError() {
		t.Fatal("errorStart not registered")
	}

	tc.Dispatch(protocol.ToolCallEnvelope{ToolCallID: "tc-1", ToolCallError: &protocol.ErrorEnvelope{
		EndError: &protocol.ErrorEnd{ErrorID: "e1"},
	}})
	if !endSeen || tc.HasError() {
		t.Fatal("errorEnd did not clear the local error set")
	}
}

func TestToolCall_PauseBuffersDispatchInFIFOOrder(t *testing.T) {
	tc, _, _ := newTestToolCall(t, nil)

	var order []string
	tc.OnMetaEvent(func(p []byte) { order = append(order, string(p)) })

	tc.Pause()
	tc.Dispatch(protocol.ToolCallEnvelope{ToolCallID: "tc-1", MetaEvent: []byte(`"1"`)})
	tc.Dispatch(protocol.ToolCallEnvelope{ToolCallID: "tc-1", MetaEvent: []byte(`"2"`)})
	if len(order) != 0 {
		t.Fatalf("fired while paused: %v", order)
	}

	tc.Resume()
	if len(order) != 2 || order[0] != `"1"` || order[1] != `"2"` {
		t.Fatalf("order = %v, want FIFO [1 2]", order)
	}
}
