package types

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestError_ChainingAndHelpers(t *testing.T) {
	t.Parallel()

	root := errors.New("root")
	err := NewError(ErrPeerRejected, "peer declined").
		WithCause(root).
		WithHTTPStatus(502).
		WithRetryable(true).
		WithPeer("node-b")

	if GetErrorCode(err) != ErrPeerRejected {
		t.Fatalf("expected code %s, got %s", ErrPeerRejected, GetErrorCode(err))
	}
	if !IsRetryable(err) {
		t.Fatalf("expected retryable")
	}
	if !errors.Is(err, root) {
		t.Fatalf("expected errors.Is unwrap to root")
	}
	if got := err.Error(); got == "" {
		t.Fatalf("expected non-empty error string")
	}
	if err.PeerNodeID != "node-b" {
		t.Fatalf("expected peer node recorded")
	}
}

func TestError_WrappedLookup(t *testing.T) {
	t.Parallel()

	inner := NewError(ErrDelegationTimeout, "timed out")
	wrapped := fmt.Errorf("attempt 2: %w", inner)

	if GetErrorCode(wrapped) != ErrDelegationTimeout {
		t.Fatalf("expected wrapped code lookup, got %q", GetErrorCode(wrapped))
	}
	if GetErrorCode(errors.New("plain")) != "" {
		t.Fatalf("plain errors carry no code")
	}
}

func TestStatusForCode(t *testing.T) {
	t.Parallel()

	cases := map[ErrorCode]int{
		ErrInvalidRequest:     http.StatusBadRequest,
		ErrUnknownTask:        http.StatusNotFound,
		ErrNoSuitablePeers:    http.StatusServiceUnavailable,
		ErrDelegationTimeout:  http.StatusGatewayTimeout,
		ErrRateLimited:        http.StatusTooManyRequests,
		ErrorCode("WHATEVER"): http.StatusInternalServerError,
	}
	for code, want := range cases {
		if got := StatusForCode(code); got != want {
			t.Fatalf("StatusForCode(%s) = %d, want %d", code, got, want)
		}
	}
}
