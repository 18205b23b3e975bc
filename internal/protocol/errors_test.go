package protocol

import (
	"errors"
	"testing"
)

func TestError_Error_WithAndWithoutCause(t *testing.T) {
	plain := Validation("bad field")
	if got, want := plain.Error(), "validation: bad field"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}

	cause := errors.New("dial tcp: timeout")
	wrapped := Network("connect failed", cause)
	if got, want := wrapped.Error(), "network: connect failed: dial tcp: timeout"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !errors.Is(wrapped, cause) {
		t.Error("errors.Is(wrapped, cause) = false, want true via Unwrap")
	}
}

func TestError_IsRetryable(t *testing.T) {
	cases := []struct {
		name string
		err  *Error
		want bool
	}{
		{"network", Network("x", nil), true},
		{"protocol", Protocol("x"), true},
		{"invalid_operation", InvalidOperation("x"), false},
		{"validation", Validation("x"), false},
		{"unhandled_envelope", UnhandledEnvelope("x"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.err.IsRetryable(); got != tc.want {
				t.Errorf("IsRetryable() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestError_WithContext_Chains(t *testing.T) {
	err := Validation("bad").WithContext("field", "role").WithContext("value", "owner")
	if err.Context["field"] != "role" || err.Context["value"] != "owner" {
		t.Errorf("Context = %v, want field=role value=owner", err.Context)
	}
}

func TestIsKind(t *testing.T) {
	if !IsKind(InvalidOperation("x"), KindInvalidOperation) {
		t.Error("IsKind(InvalidOperation, KindInvalidOperation) = false")
	}
	if IsKind(InvalidOperation("x"), KindNetwork) {
		t.Error("IsKind(InvalidOperation, KindNetwork) = true, want false")
	}
	if IsKind(errors.New("not a protocol error"), KindValidation) {
		t.Error("IsKind(plain error, _) = true, want false")
	}
	if IsKind(nil, KindValidation) {
		t.Error("IsKind(nil, _) = true, want false")
	}
}
