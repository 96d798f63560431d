// Package authority scales a delegatee's budget, oversight and permissions
// by its trust score.
package authority

import (
	"fmt"
	"math"

	"github.com/BaSui01/agentswarm/types"
)

// Tier is a coarse trust bucket.
type Tier string

const (
	TierLow    Tier = "low"
	TierMedium Tier = "medium"
	TierHigh   Tier = "high"
)

// Config holds tier thresholds and per-tier scaling.
type Config struct {
	LowThreshold     float64 `json:"low_threshold" yaml:"low_threshold"`
	HighThreshold    float64 `json:"high_threshold" yaml:"high_threshold"`
	LowMultiplier    float64 `json:"low_multiplier" yaml:"low_multiplier"`
	MediumMultiplier float64 `json:"medium_multiplier" yaml:"medium_multiplier"`
	HighMultiplier   float64 `json:"high_multiplier" yaml:"high_multiplier"`

	LowCheckpointIntervalMs    int64 `json:"low_checkpoint_interval_ms" yaml:"low_checkpoint_interval_ms"`
	MediumCheckpointIntervalMs int64 `json:"medium_checkpoint_interval_ms" yaml:"medium_checkpoint_interval_ms"`

	LowMaxPermissions    int `json:"low_max_permissions" yaml:"low_max_permissions"`
	MediumMaxPermissions int `json:"medium_max_permissions" yaml:"medium_max_permissions"`
}

// DefaultConfig returns the standard graduated-authority policy.
func DefaultConfig() Config {
	return Config{
		LowThreshold:               0.3,
		HighThreshold:              0.7,
		LowMultiplier:              0.5,
		MediumMultiplier:           1.0,
		HighMultiplier:             1.5,
		LowCheckpointIntervalMs:    15000,
		MediumCheckpointIntervalMs: 60000,
		LowMaxPermissions:          3,
		MediumMaxPermissions:       10,
	}
}

// Validate checks the thresholds are ordered and the multipliers positive.
func (c Config) Validate() error {
	if c.LowThreshold < 0 || c.HighThreshold > 1 || c.LowThreshold > c.HighThreshold {
		return fmt.Errorf("authority thresholds must satisfy 0 <= low (%v) <= high (%v) <= 1", c.LowThreshold, c.HighThreshold)
	}
	if c.LowMultiplier <= 0 || c.MediumMultiplier <= 0 || c.HighMultiplier <= 0 {
		return fmt.Errorf("authority multipliers must be positive")
	}
	if c.LowCheckpointIntervalMs <= 0 || c.MediumCheckpointIntervalMs <= 0 {
		return fmt.Errorf("checkpoint intervals must be positive")
	}
	return nil
}

// Grant is the trust-scaled authority for one delegation.
type Grant struct {
	TrustTier          Tier                              `json:"trust_tier"`
	SLO                types.ContractSLO                 `json:"slo"`
	Monitoring         types.ContractMonitoring          `json:"monitoring"`
	PermissionBoundary *types.ContractPermissionBoundary `json:"permission_boundary,omitempty"`
}

// GetTrustTier buckets score. Thresholds are half-open: a score equal to a
// threshold belongs to the higher tier.
func GetTrustTier(score float64, cfg Config) Tier {
	switch {
	case score < cfg.LowThreshold:
		return TierLow
	case score >= cfg.HighThreshold:
		return TierHigh
	default:
		return TierMedium
	}
}

// FromTrust derives the authority granted to a peer with the given trust.
// It is pure: identical inputs yield identical output and the inputs are
// never modified.
func FromTrust(score float64, baseSLO types.ContractSLO, baseMonitoring types.ContractMonitoring,
	baseBoundary *types.ContractPermissionBoundary, cfg Config) Grant {
	tier := GetTrustTier(score, cfg)

	return Grant{
		TrustTier:          tier,
		SLO:                scaleSLO(baseSLO, multiplier(tier, cfg)),
		Monitoring:         monitoringFor(tier, baseMonitoring, cfg),
		PermissionBoundary: boundaryFor(tier, baseBoundary, cfg),
	}
}

func multiplier(tier Tier, cfg Config) float64 {
	switch tier {
	case TierLow:
		return cfg.LowMultiplier
	case TierHigh:
		return cfg.HighMultiplier
	default:
		return cfg.MediumMultiplier
	}
}

func scaleSLO(base types.ContractSLO, m float64) types.ContractSLO {
	return types.ContractSLO{
		MaxDurationMs: int64(math.Round(float64(base.MaxDurationMs) * m)),
		MaxTokens:     int64(math.Round(float64(base.MaxTokens) * m)),
		MaxCostUSD:    base.MaxCostUSD * m,
	}
}

func monitoringFor(tier Tier, base types.ContractMonitoring, cfg Config) types.ContractMonitoring {
	out := types.ContractMonitoring{ReportLevel: base.ReportLevel}
	switch tier {
	case TierLow:
		out.RequireCheckpoints = true
		out.CheckpointIntervalMs = cfg.LowCheckpointIntervalMs
		out.ReportLevel = "full"
	case TierMedium:
		out.RequireCheckpoints = true
		out.CheckpointIntervalMs = cfg.MediumCheckpointIntervalMs
	}
	return out
}

func boundaryFor(tier Tier, base *types.ContractPermissionBoundary, cfg Config) *types.ContractPermissionBoundary {
	if tier == TierHigh {
		if base == nil {
			return &types.ContractPermissionBoundary{}
		}
		return base.Clone()
	}

	limit := cfg.MediumMaxPermissions
	if tier == TierLow {
		limit = cfg.LowMaxPermissions
	}
	out := base.Clone()
	if out == nil {
		out = &types.ContractPermissionBoundary{}
	}
	if out.MaxPermissions == nil || *out.MaxPermissions > limit {
		out.MaxPermissions = &limit
	}
	return out
}
