package api

import "github.com/BaSui01/agentswarm/swarm/mesh"

// Operational endpoints, unauthenticated.
const (
	PathHealth  = "/health"
	PathHealthz = "/healthz"
	PathReady   = "/ready"
	PathVersion = "/version"
	PathMetrics = "/metrics"
)

// Operator endpoints, guarded by JWT when configured.
const (
	PathDistribute  = "/api/v1/distribute"
	PathDelegations = "/api/v1/delegations"
	PathPeers       = "/api/v1/peers"
	PathReputations = "/api/v1/reputations"
	PathContracts   = "/api/v1/contracts"
	PathAuctions    = "/api/v1/auctions"
	PathInboxTasks  = "/api/v1/inbox/tasks"
	PathInboxRFQs   = "/api/v1/inbox/rfqs"
	PathEvents      = "/api/v1/events"
)

// PeerPrefix is the path prefix of every endpoint other swarm members call.
// Requests under it must carry the swarm token.
const PeerPrefix = "/api/v1/swarm/"

// PeerPaths lists the peer endpoints, all POST.
var PeerPaths = []string{
	mesh.PathDelegate,
	mesh.PathRFQ,
	mesh.PathBids,
	mesh.PathResults,
	mesh.PathCheckpoint,
	mesh.PathHeartbeat,
}
