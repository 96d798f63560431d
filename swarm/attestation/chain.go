package attestation

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"

	"github.com/BaSui01/agentswarm/types"
)

// KeyResolver returns the key a node is expected to sign with, if known.
type KeyResolver func(nodeID string) (ed25519.PublicKey, bool)

// ChainVerification is the outcome of VerifyChain.
type ChainVerification struct {
	Valid          bool   `json:"valid"`
	InvalidAtDepth *int   `json:"invalid_at_depth,omitempty"`
	Reason         string `json:"reason,omitempty"`
}

func invalidAt(depth int, format string, args ...any) ChainVerification {
	d := depth
	return ChainVerification{Valid: false, InvalidAtDepth: &d, Reason: fmt.Sprintf(format, args...)}
}

// VerifyChain walks chain in order and reports the first broken hop. A hop
// is broken when its signature fails, when its signer differs from the key
// resolve expects for its node, or when its findings hash differs from the
// prior hop's. An empty chain is valid.
func VerifyChain(chain *types.AttestationChain, token string, resolve KeyResolver) ChainVerification {
	if chain.Len() == 0 {
		return ChainVerification{Valid: true}
	}
	for depth := range chain.Hops {
		hop := &chain.Hops[depth]
		if err := VerifyAttestation(hop, token); err != nil {
			return invalidAt(depth, "signature: %v", err)
		}
		if resolve != nil {
			if expected, ok := resolve(hop.PeerNodeID); ok && hex.EncodeToString(expected) != hop.PublicKey {
				return invalidAt(depth, "unexpected signer for node %s", hop.PeerNodeID)
			}
		}
		if depth > 0 && hop.FindingsHash != chain.Hops[depth-1].FindingsHash {
			return invalidAt(depth, "findings hash does not match hop %d", depth-1)
		}
	}
	return ChainVerification{Valid: true}
}

// VerifyResultChain verifies chain and additionally requires the outermost
// hop to attest to r's findings. A mismatch is reported one past the last hop.
func VerifyResultChain(r *types.SwarmTaskResult, token string, resolve KeyResolver) ChainVerification {
	if r == nil || r.AttestationChain.Len() == 0 {
		return ChainVerification{Valid: true}
	}
	v := VerifyChain(r.AttestationChain, token, resolve)
	if !v.Valid {
		return v
	}
	last, _ := r.AttestationChain.Last()
	if last.FindingsHash != HashFindings(r.Findings) {
		return invalidAt(r.AttestationChain.Len(), "result findings do not match outermost attestation")
	}
	return v
}
