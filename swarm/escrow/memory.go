package escrow

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryLedger is an in-process Ledger.
type MemoryLedger struct {
	mu            sync.Mutex
	balances      map[string]float64
	bonds         map[string]*Bond
	initialCredit float64
	now           func() time.Time
}

// NewMemoryLedger creates a ledger where unseen accounts start with
// initialCreditUSD.
func NewMemoryLedger(initialCreditUSD float64) *MemoryLedger {
	return &MemoryLedger{
		balances:      make(map[string]float64),
		bonds:         make(map[string]*Bond),
		initialCredit: initialCreditUSD,
		now:           time.Now,
	}
}

func (m *MemoryLedger) account(nodeID string) float64 {
	bal, ok := m.balances[nodeID]
	if !ok {
		bal = m.initialCredit
		m.balances[nodeID] = bal
	}
	return bal
}

// Deposit implements Ledger.
func (m *MemoryLedger) Deposit(_ context.Context, nodeID string, amountUSD float64) error {
	if amountUSD <= 0 {
		return fmt.Errorf("%w: deposit %v", ErrInvalidAmount, amountUSD)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[nodeID] = m.account(nodeID) + amountUSD
	return nil
}

// Balance implements Ledger.
func (m *MemoryLedger) Balance(_ context.Context, nodeID string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.account(nodeID), nil
}

// HoldBond implements Ledger.
func (m *MemoryLedger) HoldBond(_ context.Context, taskID, nodeID string, amountUSD float64) (Bond, error) {
	if amountUSD <= 0 {
		return Bond{}, fmt.Errorf("%w: bond %v", ErrInvalidAmount, amountUSD)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	key := bondKey(taskID, nodeID)
	if _, ok := m.bonds[key]; ok {
		return Bond{}, fmt.Errorf("%w: task %s node %s", ErrBondExists, taskID, nodeID)
	}
	bal := m.account(nodeID)
	if bal < amountUSD {
		return Bond{}, fmt.Errorf("%w: node %s has %.4f, needs %.4f", ErrInsufficientBalance, nodeID, bal, amountUSD)
	}
	m.balances[nodeID] = bal - amountUSD
	b := &Bond{TaskID: taskID, NodeID: nodeID, AmountUSD: amountUSD, Status: BondHeld, HeldAt: m.now()}
	m.bonds[key] = b
	return *b, nil
}

// ReleaseBond implements Ledger.
func (m *MemoryLedger) ReleaseBond(_ context.Context, taskID, nodeID string) (Bond, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, err := m.heldLocked(taskID, nodeID)
	if err != nil {
		return Bond{}, err
	}
	m.balances[nodeID] = m.account(nodeID) + b.AmountUSD
	b.Status = BondReleased
	b.SettledAt = m.now()
	return *b, nil
}

// SlashBond implements Ledger.
func (m *MemoryLedger) SlashBond(_ context.Context, taskID, nodeID string, pct float64) (Bond, error) {
	if err := validatePct(pct); err != nil {
		return Bond{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	b, err := m.heldLocked(taskID, nodeID)
	if err != nil {
		return Bond{}, err
	}
	slashed := b.AmountUSD * pct
	m.balances[nodeID] = m.account(nodeID) + (b.AmountUSD - slashed)
	b.SlashedUSD = slashed
	b.Status = BondSlashed
	b.SettledAt = m.now()
	return *b, nil
}

// GetBond implements Ledger.
func (m *MemoryLedger) GetBond(_ context.Context, taskID, nodeID string) (Bond, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bonds[bondKey(taskID, nodeID)]
	if !ok {
		return Bond{}, false, nil
	}
	return *b, true, nil
}

func (m *MemoryLedger) heldLocked(taskID, nodeID string) (*Bond, error) {
	b, ok := m.bonds[bondKey(taskID, nodeID)]
	if !ok || b.Status != BondHeld {
		return nil, fmt.Errorf("%w: task %s node %s", ErrBondNotHeld, taskID, nodeID)
	}
	return b, nil
}
