package convo

import (
	"testing"

	"github.com/agentflow/convruntime/internal/protocol"
)

func newTestStream(t *testing.T, sinks *Sinks) (*AsyncStream, *[]protocol.StreamEnvelope, *bool) {
	t.Helper()
	var sent []protocol.StreamEnvelope
	removed := false
	s := newAsyncStream(testContext(sinks), "asyncOutputStream", "stream-1", &protocol.StartStreamEvent{StreamID: "stream-1", MimeType: "audio/pcm"}, func(ev protocol.StreamEnvelope) error {
		sent = append(sent, ev)
		return nil
	}, func() { removed = true })
	return s, &sent, &removed
}

func TestAsyncStream_SendChunk_EmitsChunkEnvelope(t *testing.T) {
	s, sent, _ := newTestStream(t, nil)

	if err := s.SendChunk("abc", true); err != nil {
		t.Fatalf("SendChunk() error = %v", err)
	}
	if len(*sent) != 1 || (*sent)[0].Chunk == nil || (*sent)[0].Chunk.Data != "abc" || !(*sent)[0].Chunk.IsIncomplete {
		t.Fatalf("sent = %+v, want one chunk envelope Data=abc IsIncomplete=true", *sent)
	}
}

func TestAsyncStream_Dispatch_ChunkFiresHandler(t *testing.T) {
	s, _, _ := newTestStream(t, nil)

	var got *protocol.StreamChunkEvent
	s.OnChunk(func(ev *protocol.StreamChunkEvent) { got = ev })

	s.Dispatch(protocol.StreamEnvelope{StreamID: "stream-1", Chunk: &protocol.StreamChunkEvent{Data: "xyz"}})

	if got == nil || got.Data != "xyz" {
		t.Fatalf("OnChunk fired with %v, want Data=xyz", got)
	}
}

func TestAsyncStream_SendEndStream_RemovesFromParent(t *testing.T) {
	s, sent, removed := newTestStream(t, nil)

	if err := s.SendEndStream(); err != nil {
		t.Fatalf("SendEndStream() error = %v", err)
	}
	if !*removed {
		t.Error("removeFromParent not invoked")
	}
	if !s.Ended() || !s.Deleted() {
		t.Error("stream not ended/deleted")
	}
	last := (*sent)[len(*sent)-1]
	if last.EndStream == nil {
		t.Errorf("last envelope = %+v, want EndStream set", last)
	}
}

func TestAsyncStream_Dispatch_IgnoresMismatchedID(t *testing.T) {
	s, _, _ := newTestStream(t, nil)
	var fired bool
	s.OnEndStream(func() { fired = true })

	s.Dispatch(protocol.StreamEnvelope{StreamID: "other-stream", EndStream: &protocol.EndStreamEvent{}})

	if fired {
		t.Error("handler fired for an envelope addressed to a different stream")
	}
}

func TestAsyncStream_ErrorWithoutLocalHandler_ReachesAnyAndUnhandledSinks(t *testing.T) {
	caps := &capturingSinks{}
	s, _, _ := newTestStream(t, caps.asSinks())

	s.Dispatch(protocol.StreamEnvelope{StreamID: "stream-1", StreamError: &protocol.ErrorEnvelope{
		StartError: &protocol.ErrorStart{ErrorID: "e1", Message: "boom"},
	}})

	if len(caps.anyErrorStarts) != 1 || caps.anyErrorStarts[0].kind != "asyncOutputStream" {
		t.Fatalf("anyErrorStarts = %+v, want one entry kind=asyncOutputStream", caps.anyErrorStarts)
	}
	if len(caps.unhandledErrorStarts) != 1 {
		t.Fatalf("unhandledErrorStarts = %+v, want one entry (no local handler registered)", caps.unhandledErrorStarts)
	}
}
