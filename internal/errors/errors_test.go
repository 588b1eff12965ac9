package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestTransportErrorClassification(t *testing.T) {
	base := NewTransportError("GET", "http://engine/api/v2/strategies", 503, "maintenance", nil)
	wrapped := fmt.Errorf("list instances: %w", base)

	if !IsTransport(wrapped) {
		t.Fatal("wrapped transport error should be detected")
	}
	if got := StatusCode(wrapped); got != 503 {
		t.Errorf("StatusCode = %d, want 503", got)
	}
	if got := Message(wrapped); got != "503 - maintenance" {
		t.Errorf("Message = %q", got)
	}
	if IsRejection(wrapped) {
		t.Error("transport error must not classify as rejection")
	}
}

func TestTransportErrorWithoutResponse(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewTransportError("POST", "http://engine/x", 0, "", cause)

	if !errors.Is(err, cause) {
		t.Error("transport error should unwrap to its cause")
	}
	if StatusCode(err) != 0 {
		t.Error("status code should be zero without a response")
	}
	if got := Message(err); got != "backend unreachable: connection refused" {
		t.Errorf("Message = %q", got)
	}
}

func TestRejectionMessage(t *testing.T) {
	err := Wrap(NewRejectionError("control", "Trend_BTC_1h", "instance is locked"), "stop")
	if !IsRejection(err) {
		t.Fatal("expected rejection")
	}
	if got := Message(err); got != "instance is locked" {
		t.Errorf("Message = %q", got)
	}
}

func TestShapeErrorUnwrapsToInvalidPayload(t *testing.T) {
	err := NewShapeError("telemetry", nil)
	if !errors.Is(err, ErrInvalidPayload) {
		t.Error("shape error without cause should match ErrInvalidPayload")
	}
}

func TestWrapNil(t *testing.T) {
	if Wrap(nil, "ctx") != nil || Wrapf(nil, "ctx %d", 1) != nil {
		t.Error("wrapping nil must return nil")
	}
}
