package distributor

import (
	"sort"

	"github.com/BaSui01/agentswarm/swarm/pareto"
	"github.com/BaSui01/agentswarm/types"
)

// rank orders the eligible peers for req under strategy. Self, quarantined
// and excluded peers never appear; every strategy except round_robin keeps
// only peers advertising one of the required capabilities.
func (d *Distributor) rank(req DistributeRequest, strategy Strategy, exclude map[string]bool) []types.PeerEntry {
	self := d.deps.Mesh.GetIdentity().NodeID
	required := req.Constraints.RequiredCapabilities()

	peers := d.deps.Mesh.GetActivePeers()
	eligible := make([]types.PeerEntry, 0, len(peers))
	for _, p := range peers {
		id := p.NodeID()
		if id == "" || id == self || exclude[id] || d.quarantine.has(id) {
			continue
		}
		if strategy != StrategyRoundRobin && !p.HasAnyCapability(required) {
			continue
		}
		eligible = append(eligible, p)
	}
	sort.SliceStable(eligible, func(i, j int) bool { return eligible[i].NodeID() < eligible[j].NodeID() })
	if len(eligible) == 0 {
		return eligible
	}

	switch strategy {
	case StrategyRoundRobin:
		return d.rotate(eligible)
	case StrategyCapabilityMatch:
		sort.SliceStable(eligible, func(i, j int) bool {
			return types.CapabilityOverlap(required, eligible[i].Identity.Capabilities) >
				types.CapabilityOverlap(required, eligible[j].Identity.Capabilities)
		})
		return eligible
	case StrategyMultiObjective:
		cands := d.score(eligible, required)
		sort.SliceStable(cands, func(i, j int) bool { return cands[i].Composite > cands[j].Composite })
		return peersOf(cands)
	case StrategyPareto:
		return peersOf(d.deps.Pareto.Select(d.score(eligible, required)).Ordered())
	default:
		return d.byReputation(eligible)
	}
}

// rotate starts at an offset that advances on every call.
func (d *Distributor) rotate(peers []types.PeerEntry) []types.PeerEntry {
	n := len(peers)
	start := int((d.rrOffset.Add(1) - 1) % uint64(n))
	out := make([]types.PeerEntry, 0, n)
	out = append(out, peers[start:]...)
	return append(out, peers[:start]...)
}

// byReputation sorts by trust descending, then last latency ascending.
func (d *Distributor) byReputation(peers []types.PeerEntry) []types.PeerEntry {
	trust := make(map[string]float64, len(peers))
	for _, p := range peers {
		trust[p.NodeID()] = d.deps.Reputation.GetTrustScore(p.NodeID())
	}
	sort.SliceStable(peers, func(i, j int) bool {
		ti, tj := trust[peers[i].NodeID()], trust[peers[j].NodeID()]
		if ti != tj {
			return ti > tj
		}
		return peers[i].LastLatencyMs < peers[j].LastLatencyMs
	})
	return peers
}

func (d *Distributor) score(peers []types.PeerEntry, required []string) []pareto.Candidate {
	out := make([]pareto.Candidate, 0, len(peers))
	for _, p := range peers {
		in := pareto.Inputs{
			Peer:                 p,
			TrustScore:           d.deps.Reputation.GetTrustScore(p.NodeID()),
			MaxCostUSD:           d.config.MaxCostUSD,
			RequiredCapabilities: required,
		}
		if rep, ok := d.deps.Reputation.GetReputation(p.NodeID()); ok {
			in.AvgCostUSD = rep.AvgCostUSD()
		}
		out = append(out, d.deps.Pareto.Score(in))
	}
	return out
}

func peersOf(cands []pareto.Candidate) []types.PeerEntry {
	out := make([]types.PeerEntry, len(cands))
	for i, c := range cands {
		out[i] = c.Peer
	}
	return out
}
