package distributor

import (
	"errors"

	"github.com/BaSui01/agentswarm/types"
)

var (
	// ErrNoSuitablePeers means no candidate survived selection.
	ErrNoSuitablePeers = errors.New("no suitable peers")
	// ErrPeerRejected means a peer declined the delegation.
	ErrPeerRejected = errors.New("peer rejected delegation")
	// ErrDelegationTimeout means no result arrived before the deadline.
	ErrDelegationTimeout = errors.New("delegation timed out")
	// ErrDelegationCancelled means the delegation was cancelled.
	ErrDelegationCancelled = errors.New("delegation cancelled")
	// ErrDelegationFailed means the delegated task reported failure.
	ErrDelegationFailed = errors.New("delegated task failed")
	// ErrAuctionFailed means the auction produced no award.
	ErrAuctionFailed = errors.New("auction failed")
	// ErrRedelegationExhausted means the redelegation budget ran out.
	ErrRedelegationExhausted = errors.New("redelegation budget exhausted")
	// ErrBondRejected means the required bond could not be held.
	ErrBondRejected = errors.New("bond could not be held")
)

// codeFor maps a sentinel to the HTTP-facing error code.
func codeFor(err error) types.ErrorCode {
	switch {
	case errors.Is(err, ErrNoSuitablePeers):
		return types.ErrNoSuitablePeers
	case errors.Is(err, ErrPeerRejected):
		return types.ErrPeerRejected
	case errors.Is(err, ErrDelegationTimeout):
		return types.ErrDelegationTimeout
	case errors.Is(err, ErrDelegationCancelled):
		return types.ErrDelegationCancelled
	case errors.Is(err, ErrAuctionFailed):
		return types.ErrAuctionFailed
	case errors.Is(err, ErrBondRejected):
		return types.ErrBondRejected
	case errors.Is(err, ErrDelegationFailed), errors.Is(err, ErrRedelegationExhausted):
		return types.ErrDelegationFailed
	default:
		return types.ErrInternalError
	}
}

// asTypedError wraps err into a *types.Error that still unwraps to err.
func asTypedError(err error, peer string) error {
	if err == nil {
		return nil
	}
	if _, ok := types.AsError(err); ok {
		return err
	}
	code := codeFor(err)
	e := types.NewError(code, err.Error()).
		WithCause(err).
		WithHTTPStatus(types.StatusForCode(code)).
		WithRetryable(errors.Is(err, ErrDelegationTimeout) || errors.Is(err, ErrNoSuitablePeers))
	if peer != "" {
		e = e.WithPeer(peer)
	}
	return e
}
