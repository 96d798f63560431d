package mesh

import (
	"context"
	"errors"

	"github.com/BaSui01/agentswarm/types"
)

// TokenHeader carries the shared swarm token on every peer request.
const TokenHeader = "X-Swarm-Token"

var (
	// ErrPeerNotFound is returned for node ids the directory does not know.
	ErrPeerNotFound = errors.New("peer not found")
	// ErrUnauthorized is returned when a peer rejects the swarm token.
	ErrUnauthorized = errors.New("swarm token rejected")
)

// DelegateRequest is what a delegator sends to a peer. Peers should adopt
// TaskID for the task they create; results are matched on it.
type DelegateRequest struct {
	TaskID             string                            `json:"task_id"`
	CorrelationID      string                            `json:"correlation_id"`
	OriginNodeID       string                            `json:"origin_node_id"`
	CallbackURL        string                            `json:"callback_url,omitempty"`
	TaskText           string                            `json:"task_text"`
	SessionID          string                            `json:"session_id"`
	Constraints        *types.TaskConstraints            `json:"constraints,omitempty"`
	ParentChain        *types.AttestationChain           `json:"parent_chain,omitempty"`
	Priority           int                               `json:"priority,omitempty"`
	SLO                *types.ContractSLO                `json:"slo,omitempty"`
	Monitoring         *types.ContractMonitoring         `json:"monitoring,omitempty"`
	PermissionBoundary *types.ContractPermissionBoundary `json:"permission_boundary,omitempty"`
}

// DelegateResponse is a peer's answer to a DelegateRequest.
type DelegateResponse struct {
	Accepted bool   `json:"accepted"`
	TaskID   string `json:"task_id,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// Mesh is the peer-facing collaborator the distributor and auction use.
type Mesh interface {
	GetActivePeers() []types.PeerEntry
	GetPeer(nodeID string) (types.PeerEntry, bool)
	GetIdentity() types.PeerIdentity
	GetSwarmToken() string
	DelegateTask(ctx context.Context, peerID string, req DelegateRequest) (DelegateResponse, error)
	SendRFQ(ctx context.Context, peerAddress string, rfq types.TaskRFQ) error
}

// Heartbeat is a peer's periodic liveness report.
type Heartbeat struct {
	Identity  types.PeerIdentity `json:"identity"`
	LatencyMs int64              `json:"latency_ms,omitempty"`
}

// Checkpoint is a progress report for a delegated task.
type Checkpoint struct {
	TaskID     string `json:"task_id"`
	PeerNodeID string `json:"peer_node_id"`
	Progress   string `json:"progress,omitempty"`
}
