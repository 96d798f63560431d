// Package pareto scores peers along several objectives and finds the set of
// peers no other candidate dominates.
package pareto

import (
	"github.com/BaSui01/agentswarm/types"
)

// LatencyCeilingMs is the latency at which the latency score reaches zero.
const LatencyCeilingMs = 10000.0

// Objectives is a per-peer objective vector. Every component is in [0,1]
// and larger is better.
type Objectives struct {
	Trust      float64 `json:"trust"`
	Latency    float64 `json:"latency"`
	Cost       float64 `json:"cost"`
	Capability float64 `json:"capability"`
}

// Weights combine objectives into a composite score.
type Weights struct {
	Trust      float64 `json:"trust" yaml:"trust"`
	Latency    float64 `json:"latency" yaml:"latency"`
	Cost       float64 `json:"cost" yaml:"cost"`
	Capability float64 `json:"capability" yaml:"capability"`
}

// DefaultWeights favour trust and split the rest evenly.
func DefaultWeights() Weights {
	return Weights{Trust: 0.4, Latency: 0.2, Cost: 0.2, Capability: 0.2}
}

// Composite is the weighted sum of o.
func (w Weights) Composite(o Objectives) float64 {
	return w.Trust*o.Trust + w.Latency*o.Latency + w.Cost*o.Cost + w.Capability*o.Capability
}

// Inputs are the facts objectives are computed from.
type Inputs struct {
	Peer       types.PeerEntry
	TrustScore float64
	// AvgCostUSD is the peer's historical mean cost; zero when unknown.
	AvgCostUSD float64
	// MaxCostUSD normalizes cost; non-positive disables the cost penalty.
	MaxCostUSD           float64
	RequiredCapabilities []string
}

// Compute derives the objective vector for one peer.
func Compute(in Inputs) Objectives {
	cost := 1.0
	if in.MaxCostUSD > 0 {
		cost = 1 - clamp01(in.AvgCostUSD/in.MaxCostUSD)
	}
	return Objectives{
		Trust:      clamp01(in.TrustScore),
		Latency:    LatencyScore(in.Peer.LastLatencyMs),
		Cost:       cost,
		Capability: types.CapabilityOverlap(in.RequiredCapabilities, in.Peer.Identity.Capabilities),
	}
}

// LatencyScore maps latency to 1 − clamp(latency/10000 ms).
func LatencyScore(latencyMs int64) float64 {
	return 1 - clamp01(float64(latencyMs)/LatencyCeilingMs)
}

// Dominates reports whether a is at least as good as b on every objective
// and strictly better on at least one.
func Dominates(a, b Objectives) bool {
	av := [...]float64{a.Trust, a.Latency, a.Cost, a.Capability}
	bv := [...]float64{b.Trust, b.Latency, b.Cost, b.Capability}
	strictly := false
	for i := range av {
		if av[i] < bv[i] {
			return false
		}
		if av[i] > bv[i] {
			strictly = true
		}
	}
	return strictly
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
