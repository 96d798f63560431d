package pareto

import (
	"sort"

	"go.uber.org/zap"

	"github.com/BaSui01/agentswarm/swarm/events"
	"github.com/BaSui01/agentswarm/types"
)

// Candidate is a peer with its objective vector and composite score.
type Candidate struct {
	Peer       types.PeerEntry `json:"peer"`
	Objectives Objectives      `json:"objectives"`
	Composite  float64         `json:"composite"`
}

// NodeID returns the candidate's node id.
func (c Candidate) NodeID() string { return c.Peer.Identity.NodeID }

// Result partitions candidates into the non-dominated front and the rest.
type Result struct {
	Front     []Candidate `json:"front"`
	Selected  *Candidate  `json:"selected,omitempty"`
	Dominated []Candidate `json:"dominated"`
}

// Ordered returns the selection first, then the rest of the front, then the
// dominated peers. Relative input order is kept within each group.
func (r Result) Ordered() []Candidate {
	out := make([]Candidate, 0, len(r.Front)+len(r.Dominated))
	if r.Selected != nil {
		out = append(out, *r.Selected)
	}
	for _, c := range r.Front {
		if r.Selected != nil && c.NodeID() == r.Selected.NodeID() {
			continue
		}
		out = append(out, c)
	}
	return append(out, r.Dominated...)
}

// Selector computes Pareto fronts.
type Selector struct {
	weights Weights
	emitter events.Emitter
	logger  *zap.Logger
}

// NewSelector creates a selector that breaks ties with weights.
func NewSelector(weights Weights, emitter events.Emitter, logger *zap.Logger) *Selector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Selector{
		weights: weights,
		emitter: emitter,
		logger:  logger.With(zap.String("component", "pareto_selector")),
	}
}

// Weights returns the composite weights in use.
func (s *Selector) Weights() Weights { return s.weights }

// Score builds a candidate from inputs.
func (s *Selector) Score(in Inputs) Candidate {
	obj := Compute(in)
	return Candidate{Peer: in.Peer, Objectives: obj, Composite: s.weights.Composite(obj)}
}

// Select finds the non-dominated front of candidates and designates the
// front member with the highest composite; equal composites go to the
// lexically smallest node id.
func (s *Selector) Select(candidates []Candidate) Result {
	res := Result{Front: []Candidate{}, Dominated: []Candidate{}}
	for i, c := range candidates {
		dominated := false
		for j, other := range candidates {
			if i != j && Dominates(other.Objectives, c.Objectives) {
				dominated = true
				break
			}
		}
		if dominated {
			res.Dominated = append(res.Dominated, c)
		} else {
			res.Front = append(res.Front, c)
		}
	}

	if len(res.Front) > 0 {
		best := make([]Candidate, len(res.Front))
		copy(best, res.Front)
		sort.SliceStable(best, func(i, j int) bool {
			if best[i].Composite != best[j].Composite {
				return best[i].Composite > best[j].Composite
			}
			return best[i].NodeID() < best[j].NodeID()
		})
		sel := best[0]
		res.Selected = &sel
	}

	fields := events.Fields{
		"candidates":     len(candidates),
		"front_size":     len(res.Front),
		"dominated_size": len(res.Dominated),
	}
	if res.Selected != nil {
		fields["selected"] = res.Selected.NodeID()
		fields["composite"] = res.Selected.Composite
	}
	if err := events.Emit(s.emitter, events.KindParetoSelectionCompleted, fields); err != nil {
		s.logger.Debug("emit failed", zap.Error(err))
	}
	return res
}
