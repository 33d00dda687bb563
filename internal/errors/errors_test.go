package errors

import (
	goerrors "errors"
	"testing"
)

func TestSocketError_Unwrap(t *testing.T) {
	inner := goerrors.New("connection refused")
	err := &SocketError{Operation: "connect", Err: inner, Details: "1650/tcp"}

	if !goerrors.Is(err, inner) {
		t.Errorf("errors.Is(err, inner) = false, want true")
	}

	var asErr *SocketError
	if !goerrors.As(err, &asErr) {
		t.Fatalf("errors.As failed to match *SocketError")
	}
	if asErr.Operation != "connect" {
		t.Errorf("Operation = %q, want %q", asErr.Operation, "connect")
	}
}

func TestTransferInterruptedError(t *testing.T) {
	inner := goerrors.New("connection reset by peer")
	err := &TransferInterruptedError{BytesSent: 4096, Err: inner}

	if !goerrors.Is(err, inner) {
		t.Errorf("errors.Is(err, inner) = false, want true")
	}
	if err.BytesSent != 4096 {
		t.Errorf("BytesSent = %d, want 4096", err.BytesSent)
	}
}

func TestPolicyDeclinedError(t *testing.T) {
	err := &PolicyDeclinedError{}
	if got, want := err.Error(), "transfer declined"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestShutdownAndTimeoutSentinelsAreDistinct(t *testing.T) {
	if goerrors.Is(ErrShutdown, ErrTimeout) {
		t.Error("ErrShutdown and ErrTimeout must not compare equal")
	}
}
