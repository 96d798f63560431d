package types

import "time"

// ScoringWeights weigh bid attributes when an auction is evaluated.
type ScoringWeights struct {
	Trust      float64 `json:"trust" yaml:"trust"`
	Latency    float64 `json:"latency" yaml:"latency"`
	Cost       float64 `json:"cost" yaml:"cost"`
	Capability float64 `json:"capability" yaml:"capability"`
}

// TaskRFQ is a request for quotes broadcast to peers.
type TaskRFQ struct {
	RFQID                string           `json:"rfq_id"`
	TaskText             string           `json:"task_text"`
	SessionID            string           `json:"session_id"`
	Constraints          *TaskConstraints `json:"constraints,omitempty"`
	RequiredCapabilities []string         `json:"required_capabilities,omitempty"`
	BidDeadlineMs        int64            `json:"bid_deadline_ms"`
	Round                int              `json:"round"`
	ScoringWeights       *ScoringWeights  `json:"scoring_weights,omitempty"`
	OriginatorNodeID     string           `json:"originator_node_id"`
	Nonce                string           `json:"nonce"`
	Timestamp            time.Time        `json:"timestamp"`
}

// Deadline is the instant after which bids are rejected.
func (r TaskRFQ) Deadline() time.Time {
	return r.Timestamp.Add(time.Duration(r.BidDeadlineMs) * time.Millisecond)
}

// ReputationBond is a stake a bidder offers to back its bid.
type ReputationBond struct {
	AmountUSD float64 `json:"amount_usd"`
}

// BidObject is a peer's quote for an RFQ.
type BidObject struct {
	BidID               string          `json:"bid_id"`
	RFQID               string          `json:"rfq_id"`
	BidderNodeID        string          `json:"bidder_node_id"`
	EstimatedCostUSD    float64         `json:"estimated_cost_usd"`
	EstimatedDurationMs int64           `json:"estimated_duration_ms"`
	EstimatedTokens     int64           `json:"estimated_tokens,omitempty"`
	Capabilities        []string        `json:"capabilities"`
	ReputationBond      *ReputationBond `json:"reputation_bond,omitempty"`
	Round               int             `json:"round"`
	Timestamp           time.Time       `json:"timestamp"`
}
