package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorIsMatchesByCode(t *testing.T) {
	err := Newf(CodeDuplicateAccount, "account %q already exists", "alice")
	if !errors.Is(err, ErrDuplicateAccount) {
		t.Fatal("expected duplicate account kind")
	}
	if errors.Is(err, ErrInvalidCredentials) {
		t.Fatal("unexpected match on different code")
	}
	wrapped := fmt.Errorf("register: %w", err)
	if !errors.Is(wrapped, ErrDuplicateAccount) {
		t.Fatal("expected match through fmt wrapping")
	}
	if CodeOf(wrapped) != CodeDuplicateAccount {
		t.Fatalf("unexpected code %q", CodeOf(wrapped))
	}
}

func TestWrapKeepsCauseOutOfMessage(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := Wrap(CodeWorkFailed, "operation failed", cause)
	if err.Message != "operation failed" {
		t.Fatalf("message leaked cause: %q", err.Message)
	}
	if !errors.Is(err, cause) {
		t.Fatal("cause not reachable through Unwrap")
	}
	if !IsClassified(err) || IsClassified(cause) {
		t.Fatal("classification mismatch")
	}
}
