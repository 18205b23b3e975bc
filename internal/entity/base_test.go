package entity

import (
	"testing"

	"github.com/agentflow/convruntime/internal/protocol"
)

func TestBase_StartEvent(t *testing.T) {
	t.Run("present", func(t *testing.T) {
		b := New("e1", "payload", true, nil, nil)
		v, err := b.StartEvent()
		if err != nil {
			t.Fatalf("StartEvent() error = %v", err)
		}
		if v != "payload" {
			t.Errorf("StartEvent() = %v, want %q", v, "payload")
		}
	})

	t.Run("missing", func(t *testing.T) {
		b := New("e1", nil, false, nil, nil)
		_, err := b.StartEvent()
		if !protocol.IsKind(err, protocol.KindValidation) {
			t.Fatalf("StartEvent() error = %v, want KindValidation", err)
		}
		v, ok := b.StartEventMaybe()
		if ok || v != nil {
			t.Errorf("StartEventMaybe() = (%v, %v), want (nil, false)", v, ok)
		}
	})
}

func TestBase_MarkEnded_DoubleEndFails(t *testing.T) {
	b := New("e1", nil, false, nil, nil)
	if err := b.MarkEnded(); err != nil {
		t.Fatalf("first MarkEnded() error = %v", err)
	}
	err := b.MarkEnded()
	if !protocol.IsKind(err, protocol.KindInvalidOperation) {
		t.Fatalf("second MarkEnded() error = %v, want KindInvalidOperation", err)
	}
}

func TestBase_AssertLive(t *testing.T) {
	b := New("e1", nil, false, nil, nil)
	if err := b.AssertLive(); err != nil {
		t.Fatalf("AssertLive() before end error = %v", err)
	}
	_ = b.MarkEnded()
	if err := b.AssertLive(); !protocol.IsKind(err, protocol.KindInvalidOperation) {
		t.Fatalf("AssertLive() after end error = %v, want KindInvalidOperation", err)
	}
}

func TestBase_Delete_FiresOnDeletedExactlyOnce(t *testing.T) {
	removed := 0
	b := New("e1", nil, false, func() { removed++ }, nil)

	fired := 0
	b.OnDeleted(func() { fired++ })

	b.Delete()
	b.Delete() // idempotent
	b.Delete()

	if fired != 1 {
		t.Errorf("onDeleted fired %d times, want 1", fired)
	}
	if removed != 1 {
		t.Errorf("removeFromParent called %d times, want 1", removed)
	}
	if !b.Deleted() {
		t.Error("Deleted() = false after Delete()")
	}
}

func TestBase_OnDeleted_RegisteredAfterDeleteFiresImmediately(t *testing.T) {
	b := New("e1", nil, false, nil, nil)
	b.Delete()

	fired := false
	b.OnDeleted(func() { fired = true })
	if !fired {
		t.Error("OnDeleted registered after Delete() should fire immediately")
	}
}

func TestBase_Errors_StartEndTransitions(t *testing.T) {
	b := New("e1", nil, false, nil, nil)
	if b.HasError() {
		t.Fatal("HasError() = true before any error")
	}

	b.AddError(protocol.ErrorStart{ErrorID: "e1", Message: "bad"})
	if !b.HasError() {
		t.Error("HasError() = false after AddError")
	}
	if len(b.Errors()) != 1 {
		t.Errorf("len(Errors()) = %d, want 1", len(b.Errors()))
	}

	b.RemoveError("e1")
	if b.HasError() {
		t.Error("HasError() = true after RemoveError")
	}

	// Removing an unknown id is a no-op, not an error.
	b.RemoveError("does-not-exist")
	if b.HasError() {
		t.Error("HasError() = true after removing unknown error id")
	}
}

func TestBase_Fire_SnapshotOnIteration(t *testing.T) {
	b := New("e1", nil, false, nil, nil)

	var order []int
	var unregisterSecond func()

	b.On("metaEvent", func(any) {
		order = append(order, 1)
		// Registered during dispatch: must not run in this fan-out.
		b.On("metaEvent", func(any) { order = append(order, 99) })
		// Unregistered during dispatch: must still run in this fan-out.
		if unregisterSecond != nil {
			unregisterSecond()
		}
	})
	unregisterSecond = b.On("metaEvent", func(any) {
		order = append(order, 2)
	})

	b.Fire("metaEvent", nil)
	if got, want := order, []int{1, 2}; !intSliceEqual(got, want) {
		t.Errorf("first Fire order = %v, want %v", got, want)
	}

	order = nil
	b.Fire("metaEvent", nil)
	// Second fire: the second handler is gone (the first unregistered it
	// during the prior dispatch); the first handler runs, then the handler
	// it added mid-dispatch last time.
	if got, want := order, []int{1, 99}; !intSliceEqual(got, want) {
		t.Errorf("second Fire order = %v, want %v", got, want)
	}
}

func TestBase_Fire_HandlerPanicDoesNotAbortSiblings(t *testing.T) {
	b := New("e1", nil, false, nil, nil)
	var second bool
	b.On("metaEvent", func(any) { panic("boom") })
	b.On("metaEvent", func(any) { second = true })

	b.Fire("metaEvent", nil)
	if !second {
		t.Error("second handler did not run after first panicked")
	}
}

func TestBase_Properties_ShallowMerge(t *testing.T) {
	b := New("e1", nil, false, nil, nil)
	b.SetProperties(map[string]any{"a": 1, "b": 2})
	b.SetProperties(map[string]any{"b": 3, "c": 4})

	props := b.Properties()
	if props["a"] != 1 || props["b"] != 3 || props["c"] != 4 {
		t.Errorf("Properties() = %v, want a=1 b=3 c=4", props)
	}
}

func intSliceEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
