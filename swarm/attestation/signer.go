package attestation

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/BaSui01/agentswarm/types"
)

// ErrInvalidSignature is returned when a signature fails to verify.
var ErrInvalidSignature = errors.New("invalid signature")

// SignResult signs the canonical form of r and returns a hex signature.
func SignResult(r *types.SwarmTaskResult, priv ed25519.PrivateKey) string {
	return hex.EncodeToString(ed25519.Sign(priv, canonicalResult(r)))
}

// VerifyResult reports whether sig is a valid signature of r under pub.
// Malformed encodings and wrong-sized keys yield false.
func VerifyResult(r *types.SwarmTaskResult, sig string, pub ed25519.PublicKey) bool {
	if r == nil {
		return false
	}
	return verifyHex(pub, canonicalResult(r), sig)
}

// VerifyAttestation checks a's signature against its embedded public key.
func VerifyAttestation(a *types.TaskAttestation, token string) error {
	if a == nil {
		return fmt.Errorf("%w: nil attestation", ErrInvalidSignature)
	}
	pub, err := ParsePublicKey(a.PublicKey)
	if err != nil {
		return err
	}
	if !verifyHex(pub, canonicalAttestation(a, token), a.Signature) {
		return fmt.Errorf("%w: task %s peer %s", ErrInvalidSignature, a.TaskID, a.PeerNodeID)
	}
	return nil
}

func verifyHex(pub ed25519.PublicKey, msg []byte, sig string) bool {
	if len(pub) != ed25519.PublicKeySize {
		return false
	}
	raw, err := hex.DecodeString(sig)
	if err != nil || len(raw) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(pub, msg, raw)
}

// Signer produces attestations for one node within one swarm.
type Signer struct {
	nodeID string
	keys   *KeyPair
	token  string
	now    func() time.Time
}

// NewSigner binds a key pair to a node id and swarm token.
func NewSigner(nodeID string, keys *KeyPair, token string) *Signer {
	return &Signer{nodeID: nodeID, keys: keys, token: token, now: time.Now}
}

// PublicKeyHex returns the signer's public key.
func (s *Signer) PublicKeyHex() string { return s.keys.PublicKeyHex() }

// Attest signs a claim about r made by this node.
func (s *Signer) Attest(r *types.SwarmTaskResult) types.TaskAttestation {
	a := types.TaskAttestation{
		TaskID:       r.TaskID,
		PeerNodeID:   s.nodeID,
		Status:       r.Status,
		FindingsHash: HashFindings(r.Findings),
		Timestamp:    s.now().UTC().Truncate(time.Millisecond),
		PublicKey:    s.keys.PublicKeyHex(),
	}
	a.Signature = hex.EncodeToString(ed25519.Sign(s.keys.Private, canonicalAttestation(&a, s.token)))
	return a
}

// Extend returns a copy of chain with an attestation for r appended.
func (s *Signer) Extend(chain *types.AttestationChain, r *types.SwarmTaskResult) *types.AttestationChain {
	out := &types.AttestationChain{}
	if chain != nil {
		out.Hops = append(out.Hops, chain.Hops...)
	}
	out.Hops = append(out.Hops, s.Attest(r))
	return out
}
