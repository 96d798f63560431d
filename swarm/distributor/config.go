package distributor

import (
	"fmt"
	"time"

	"github.com/BaSui01/agentswarm/swarm/authority"
	"github.com/BaSui01/agentswarm/swarm/escrow"
	"github.com/BaSui01/agentswarm/swarm/pareto"
	"github.com/BaSui01/agentswarm/types"
)

// Strategy selects how candidate peers are ordered.
type Strategy string

const (
	StrategyRoundRobin      Strategy = "round_robin"
	StrategyCapabilityMatch Strategy = "capability_match"
	StrategyReputation      Strategy = "reputation"
	StrategyMultiObjective  Strategy = "multi_objective"
	StrategyPareto          Strategy = "pareto"
	StrategyAuction         Strategy = "auction"
)

// Valid reports whether s is a known strategy.
func (s Strategy) Valid() bool {
	switch s {
	case StrategyRoundRobin, StrategyCapabilityMatch, StrategyReputation,
		StrategyMultiObjective, StrategyPareto, StrategyAuction:
		return true
	}
	return false
}

// BondConfig controls escrow bonds on direct delegations.
type BondConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
	// Required skips peers whose bond cannot be held.
	Required bool               `json:"required" yaml:"required"`
	Sizing   escrow.Sizing      `json:"sizing" yaml:"sizing"`
	Slash    escrow.SlashPolicy `json:"slash" yaml:"slash"`
}

// Config tunes the distributor.
type Config struct {
	Strategy   Strategy `json:"strategy" yaml:"strategy"`
	MaxRetries int      `json:"max_retries" yaml:"max_retries"`

	// DelegationTimeout applies when the granted SLO has no duration budget.
	DelegationTimeout time.Duration `json:"delegation_timeout" yaml:"delegation_timeout"`
	// TimeoutGrace is added to the granted duration budget.
	TimeoutGrace time.Duration `json:"timeout_grace" yaml:"timeout_grace"`

	MaxRedelegations   int           `json:"max_redelegations" yaml:"max_redelegations"`
	QuarantineDuration time.Duration `json:"quarantine_duration" yaml:"quarantine_duration"`
	RetryBackoff       time.Duration `json:"retry_backoff" yaml:"retry_backoff"`

	BaseSLO        types.ContractSLO        `json:"base_slo" yaml:"base_slo"`
	BaseMonitoring types.ContractMonitoring `json:"base_monitoring" yaml:"base_monitoring"`

	Weights    pareto.Weights `json:"weights" yaml:"weights"`
	MaxCostUSD float64        `json:"max_cost_usd" yaml:"max_cost_usd"`

	// AuctionFastPath caps the bid wait at FastPathWait.
	AuctionFastPath bool          `json:"auction_fast_path" yaml:"auction_fast_path"`
	FastPathWait    time.Duration `json:"fast_path_wait" yaml:"fast_path_wait"`

	Bond      BondConfig       `json:"bond" yaml:"bond"`
	Authority authority.Config `json:"authority" yaml:"authority"`
}

// DefaultConfig returns the standard distributor settings.
func DefaultConfig() Config {
	return Config{
		Strategy:           StrategyReputation,
		MaxRetries:         2,
		DelegationTimeout:  5 * time.Minute,
		TimeoutGrace:       30 * time.Second,
		MaxRedelegations:   2,
		QuarantineDuration: 10 * time.Minute,
		RetryBackoff:       2 * time.Second,
		BaseSLO: types.ContractSLO{
			MaxDurationMs: 300000,
			MaxTokens:     10000,
			MaxCostUSD:    1.0,
		},
		BaseMonitoring:  types.ContractMonitoring{ReportLevel: "summary"},
		Weights:         pareto.DefaultWeights(),
		MaxCostUSD:      1.0,
		AuctionFastPath: true,
		FastPathWait:    5 * time.Second,
		Bond: BondConfig{
			Enabled: true,
			Sizing:  escrow.DefaultSizing(),
			Slash:   escrow.DefaultSlashPolicy(),
		},
		Authority: authority.DefaultConfig(),
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if !c.Strategy.Valid() {
		return fmt.Errorf("unknown distribution strategy %q", c.Strategy)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be >= 0")
	}
	if c.MaxRedelegations < 0 {
		return fmt.Errorf("max_redelegations must be >= 0")
	}
	if c.DelegationTimeout <= 0 {
		return fmt.Errorf("delegation_timeout must be positive")
	}
	if err := c.Bond.Slash.Validate(); err != nil {
		return fmt.Errorf("bond.slash: %w", err)
	}
	return c.Authority.Validate()
}
