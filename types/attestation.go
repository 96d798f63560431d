package types

import "time"

// TaskAttestation is one signed claim about a task outcome.
type TaskAttestation struct {
	TaskID       string     `json:"task_id"`
	PeerNodeID   string     `json:"peer_node_id"`
	Status       TaskStatus `json:"status"`
	FindingsHash string     `json:"findings_hash"`
	Timestamp    time.Time  `json:"timestamp"`
	// Signature is the hex-encoded ed25519 signature over the canonical payload.
	Signature string `json:"signature"`
	// PublicKey is the hex-encoded ed25519 key of the signer.
	PublicKey string `json:"public_key"`
}

// AttestationChain is an ordered list of attestations, from the executing
// peer outward to the last relaying hop.
type AttestationChain struct {
	Hops []TaskAttestation `json:"hops"`
}

// Len returns the number of hops; a nil chain has none.
func (c *AttestationChain) Len() int {
	if c == nil {
		return 0
	}
	return len(c.Hops)
}

// Last returns the outermost hop.
func (c *AttestationChain) Last() (TaskAttestation, bool) {
	if c.Len() == 0 {
		return TaskAttestation{}, false
	}
	return c.Hops[len(c.Hops)-1], true
}
