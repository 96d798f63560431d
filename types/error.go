package types

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode represents a unified error code across the swarm node.
type ErrorCode string

// Request error codes
const (
	ErrInvalidRequest     ErrorCode = "INVALID_REQUEST"
	ErrUnauthorized       ErrorCode = "UNAUTHORIZED"
	ErrForbidden          ErrorCode = "FORBIDDEN"
	ErrRateLimited        ErrorCode = "RATE_LIMITED"
	ErrNotFound           ErrorCode = "NOT_FOUND"
	ErrTimeout            ErrorCode = "TIMEOUT"
	ErrInternalError      ErrorCode = "INTERNAL_ERROR"
	ErrServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
)

// Delegation error codes
const (
	ErrNoSuitablePeers     ErrorCode = "NO_SUITABLE_PEERS"
	ErrPeerRejected        ErrorCode = "PEER_REJECTED"
	ErrDelegationTimeout   ErrorCode = "DELEGATION_TIMEOUT"
	ErrDelegationCancelled ErrorCode = "DELEGATION_CANCELLED"
	ErrDelegationFailed    ErrorCode = "DELEGATION_FAILED"
	ErrAuctionFailed       ErrorCode = "AUCTION_FAILED"
	ErrUnknownTask         ErrorCode = "UNKNOWN_TASK"
)

// Integrity error codes
const (
	ErrAttestationInvalid ErrorCode = "ATTESTATION_INVALID"
	ErrBondRejected       ErrorCode = "BOND_REJECTED"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Retryable  bool      `json:"retryable"`
	PeerNodeID string    `json:"peer_node_id,omitempty"`
	Cause      error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithHTTPStatus sets the HTTP status code.
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithPeer records the peer the error concerns.
func (e *Error) WithPeer(nodeID string) *Error {
	e.PeerNodeID = nodeID
	return e
}

// AsError finds the first *Error in err's chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if e, ok := AsError(err); ok {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return ""
}

// StatusForCode maps an error code to its default HTTP status.
func StatusForCode(code ErrorCode) int {
	switch code {
	case ErrInvalidRequest:
		return http.StatusBadRequest
	case ErrUnauthorized:
		return http.StatusUnauthorized
	case ErrForbidden:
		return http.StatusForbidden
	case ErrNotFound, ErrUnknownTask:
		return http.StatusNotFound
	case ErrRateLimited:
		return http.StatusTooManyRequests
	case ErrTimeout, ErrDelegationTimeout:
		return http.StatusGatewayTimeout
	case ErrNoSuitablePeers, ErrServiceUnavailable:
		return http.StatusServiceUnavailable
	case ErrPeerRejected, ErrDelegationFailed, ErrAuctionFailed, ErrAttestationInvalid:
		return http.StatusBadGateway
	case ErrDelegationCancelled:
		return http.StatusConflict
	case ErrBondRejected:
		return http.StatusPaymentRequired
	default:
		return http.StatusInternalServerError
	}
}
