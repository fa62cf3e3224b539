package apperror

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindSurvivesWrapping(t *testing.T) {
	base := Transport(ErrRequestFailed, 500, "boom", nil)
	wrapped := fmt.Errorf("submit answer: %w", base)

	if !IsKind(wrapped, KindTransport) {
		t.Fatalf("expected transport kind through wrapping")
	}
	if CodeOf(wrapped) != ErrRequestFailed {
		t.Fatalf("got code %s", CodeOf(wrapped))
	}
	if MessageOf(wrapped) != "boom" {
		t.Fatalf("got message %q", MessageOf(wrapped))
	}
}

func TestMessageFallsBackToCode(t *testing.T) {
	err := Validation(ErrNoAnswerSelected, "")
	if err.Error() != "Please select an answer before submitting" {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

func TestPlainErrors(t *testing.T) {
	err := errors.New("disk on fire")
	if IsKind(err, KindValidation) {
		t.Fatal("plain error must not match a kind")
	}
	if CodeOf(err) != ErrInternal {
		t.Fatalf("got %s", CodeOf(err))
	}
	if MessageOf(err) != "disk on fire" {
		t.Fatalf("got %q", MessageOf(err))
	}
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := Transport(ErrNetwork, 0, "", cause)
	if !errors.Is(err, cause) {
		t.Fatal("expected errors.Is to reach the cause")
	}
}
