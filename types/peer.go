package types

import "time"

// PeerStatus is the liveness status the mesh directory assigns to a peer.
type PeerStatus string

const (
	PeerStatusActive      PeerStatus = "active"
	PeerStatusSuspected   PeerStatus = "suspected"
	PeerStatusUnreachable PeerStatus = "unreachable"
)

// PeerIdentity describes a node as it advertises itself to the swarm.
type PeerIdentity struct {
	NodeID       string   `json:"node_id"`
	DisplayName  string   `json:"display_name"`
	APIURL       string   `json:"api_url"`
	Capabilities []string `json:"capabilities"`
	Version      string   `json:"version"`
	// PublicKey is the hex ed25519 key the node signs attestations with.
	PublicKey string `json:"public_key,omitempty"`
}

// PeerEntry is a known peer together with its liveness bookkeeping.
type PeerEntry struct {
	Identity            PeerIdentity `json:"identity"`
	Status              PeerStatus   `json:"status"`
	LastLatencyMs       int64        `json:"last_latency_ms"`
	ConsecutiveFailures int          `json:"consecutive_failures"`
	LastHeartbeatAt     time.Time    `json:"last_heartbeat_at"`
	JoinedAt            time.Time    `json:"joined_at"`
}

// NodeID is a shorthand for e.Identity.NodeID.
func (e PeerEntry) NodeID() string { return e.Identity.NodeID }

// HasAnyCapability reports whether the peer advertises at least one of caps.
// An empty caps list matches every peer.
func (e PeerEntry) HasAnyCapability(caps []string) bool {
	if len(caps) == 0 {
		return true
	}
	for _, want := range caps {
		for _, have := range e.Identity.Capabilities {
			if want == have {
				return true
			}
		}
	}
	return false
}

// CapabilityOverlap returns the fraction of required found in offered.
// With nothing required the overlap is 1.
func CapabilityOverlap(required, offered []string) float64 {
	if len(required) == 0 {
		return 1
	}
	set := make(map[string]struct{}, len(offered))
	for _, c := range offered {
		set[c] = struct{}{}
	}
	matched := 0
	for _, c := range required {
		if _, ok := set[c]; ok {
			matched++
		}
	}
	return float64(matched) / float64(len(required))
}
