package escrow

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInsufficientBalance is returned when a node cannot cover a bond.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrBondExists is returned when a bond is already recorded for the key.
	ErrBondExists = errors.New("bond already exists")
	// ErrBondNotHeld is returned when settling a missing or settled bond.
	ErrBondNotHeld = errors.New("bond not held")
	// ErrInvalidAmount is returned for non-positive amounts or bad percentages.
	ErrInvalidAmount = errors.New("invalid amount")
)

// BondStatus is the lifecycle state of a bond.
type BondStatus string

const (
	BondHeld     BondStatus = "held"
	BondReleased BondStatus = "released"
	BondSlashed  BondStatus = "slashed"
)

// Bond is an amount held against one task for one node.
type Bond struct {
	TaskID     string     `json:"task_id"`
	NodeID     string     `json:"node_id"`
	AmountUSD  float64    `json:"amount_usd"`
	SlashedUSD float64    `json:"slashed_usd,omitempty"`
	Status     BondStatus `json:"status"`
	HeldAt     time.Time  `json:"held_at"`
	SettledAt  time.Time  `json:"settled_at,omitempty"`
}

// Ledger is the escrow contract. Operations on one (task, node) key are atomic.
type Ledger interface {
	Deposit(ctx context.Context, nodeID string, amountUSD float64) error
	Balance(ctx context.Context, nodeID string) (float64, error)
	HoldBond(ctx context.Context, taskID, nodeID string, amountUSD float64) (Bond, error)
	ReleaseBond(ctx context.Context, taskID, nodeID string) (Bond, error)
	SlashBond(ctx context.Context, taskID, nodeID string, pct float64) (Bond, error)
	GetBond(ctx context.Context, taskID, nodeID string) (Bond, bool, error)
}

// SlashPolicy chooses how much of a bond is forfeited per failure kind.
type SlashPolicy struct {
	ViolationPct float64 `json:"violation_pct" yaml:"violation_pct"`
	TimeoutPct   float64 `json:"timeout_pct" yaml:"timeout_pct"`
}

// DefaultSlashPolicy forfeits half a bond on violation and a quarter on timeout.
func DefaultSlashPolicy() SlashPolicy {
	return SlashPolicy{ViolationPct: 0.5, TimeoutPct: 0.25}
}

// Validate checks both percentages lie in [0,1].
func (p SlashPolicy) Validate() error {
	if err := validatePct(p.ViolationPct); err != nil {
		return fmt.Errorf("violation_pct: %w", err)
	}
	if err := validatePct(p.TimeoutPct); err != nil {
		return fmt.Errorf("timeout_pct: %w", err)
	}
	return nil
}

// Sizing decides how large a bond to hold for a delegation.
type Sizing struct {
	MinBondUSD     float64 `json:"min_bond_usd" yaml:"min_bond_usd"`
	BondMultiplier float64 `json:"bond_multiplier" yaml:"bond_multiplier"`
}

// DefaultSizing holds half the cost budget, at least one cent.
func DefaultSizing() Sizing {
	return Sizing{MinBondUSD: 0.01, BondMultiplier: 0.5}
}

// Amount returns max(MinBondUSD, maxCostUSD*BondMultiplier).
func (s Sizing) Amount(maxCostUSD float64) float64 {
	amt := maxCostUSD * s.BondMultiplier
	if amt < s.MinBondUSD {
		amt = s.MinBondUSD
	}
	return amt
}

func validatePct(pct float64) error {
	if pct < 0 || pct > 1 {
		return fmt.Errorf("%w: percentage %v outside [0,1]", ErrInvalidAmount, pct)
	}
	return nil
}

func bondKey(taskID, nodeID string) string {
	return taskID + "|" + nodeID
}
