package contract

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/agentswarm/swarm/events"
	"github.com/BaSui01/agentswarm/types"
)

var (
	// ErrContractNotFound is returned for unknown contract ids.
	ErrContractNotFound = errors.New("contract not found")
	// ErrContractNotActive is returned when terminating an already terminated contract.
	ErrContractNotActive = errors.New("contract not active")
)

// Status is the lifecycle state of a contract.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusViolated  Status = "violated"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether s is a final state.
func (s Status) Terminal() bool { return s != StatusActive }

// DelegationContract binds a delegation to its authorized envelope.
type DelegationContract struct {
	ContractID         string                            `json:"contract_id"`
	DelegatorNodeID    string                            `json:"delegator_node_id"`
	DelegateeNodeID    string                            `json:"delegatee_node_id"`
	TaskID             string                            `json:"task_id"`
	TaskText           string                            `json:"task_text"`
	SLO                types.ContractSLO                 `json:"slo"`
	Monitoring         types.ContractMonitoring          `json:"monitoring"`
	PermissionBoundary *types.ContractPermissionBoundary `json:"permission_boundary,omitempty"`
	Status             Status                            `json:"status"`
	Reason             string                            `json:"reason,omitempty"`
	CreatedAt          time.Time                         `json:"created_at"`
	TerminatedAt       time.Time                         `json:"terminated_at,omitempty"`
}

// Terms is everything needed to open a contract.
type Terms struct {
	DelegatorNodeID    string
	DelegateeNodeID    string
	TaskID             string
	TaskText           string
	SLO                types.ContractSLO
	Monitoring         types.ContractMonitoring
	PermissionBoundary *types.ContractPermissionBoundary
}

// Store persists contracts.
type Store interface {
	Save(ctx context.Context, c DelegationContract) error
	Get(ctx context.Context, contractID string) (DelegationContract, error)
	ListByStatus(ctx context.Context, status Status) ([]DelegationContract, error)
}

// Ledger creates and terminates contracts.
type Ledger struct {
	mu        sync.RWMutex
	contracts map[string]*DelegationContract

	store   Store
	emitter events.Emitter
	logger  *zap.Logger
	now     func() time.Time
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithStore enables write-through persistence.
func WithStore(s Store) Option { return func(l *Ledger) { l.store = s } }

// WithEmitter publishes contract events.
func WithEmitter(e events.Emitter) Option { return func(l *Ledger) { l.emitter = e } }

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(l *Ledger) { l.now = now } }

// NewLedger creates a contract ledger.
func NewLedger(logger *zap.Logger, opts ...Option) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Ledger{
		contracts: make(map[string]*DelegationContract),
		logger:    logger.With(zap.String("component", "contract_ledger")),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load indexes every active contract from the store.
func (l *Ledger) Load(ctx context.Context) (int, error) {
	if l.store == nil {
		return 0, nil
	}
	active, err := l.store.ListByStatus(ctx, StatusActive)
	if err != nil {
		return 0, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range active {
		c := active[i]
		l.contracts[c.ContractID] = &c
	}
	return len(active), nil
}

// Create opens a new active contract.
func (l *Ledger) Create(ctx context.Context, terms Terms) DelegationContract {
	c := &DelegationContract{
		ContractID:         uuid.NewString(),
		DelegatorNodeID:    terms.DelegatorNodeID,
		DelegateeNodeID:    terms.DelegateeNodeID,
		TaskID:             terms.TaskID,
		TaskText:           terms.TaskText,
		SLO:                terms.SLO,
		Monitoring:         terms.Monitoring,
		PermissionBoundary: terms.PermissionBoundary.Clone(),
		Status:             StatusActive,
		CreatedAt:          l.now(),
	}

	l.mu.Lock()
	l.contracts[c.ContractID] = c
	snapshot := *c
	l.mu.Unlock()

	l.persist(ctx, snapshot)
	l.emit(events.KindContractCreated, events.Fields{
		"contract_id":     snapshot.ContractID,
		"task_id":         snapshot.TaskID,
		"delegatee":       snapshot.DelegateeNodeID,
		"max_duration_ms": snapshot.SLO.MaxDurationMs,
		"max_tokens":      snapshot.SLO.MaxTokens,
		"max_cost_usd":    snapshot.SLO.MaxCostUSD,
	})
	return snapshot
}

// Completion is the outcome of Complete.
type Completion struct {
	Contract   DelegationContract `json:"contract"`
	Violated   bool               `json:"violated"`
	Violations []string           `json:"violations,omitempty"`
}

// Complete terminates an active contract against result, marking it
// violated when the result exceeds any SLO budget.
func (l *Ledger) Complete(ctx context.Context, contractID string, result *types.SwarmTaskResult) (Completion, error) {
	l.mu.Lock()
	c, ok := l.contracts[contractID]
	if !ok {
		l.mu.Unlock()
		return Completion{}, fmt.Errorf("%w: %s", ErrContractNotFound, contractID)
	}
	if c.Status.Terminal() {
		l.mu.Unlock()
		return Completion{}, fmt.Errorf("%w: %s is %s", ErrContractNotActive, contractID, c.Status)
	}
	violations := CheckSLO(c.SLO, result)
	c.TerminatedAt = l.now()
	if len(violations) > 0 {
		c.Status = StatusViolated
		c.Reason = joinViolations(violations)
	} else {
		c.Status = StatusCompleted
	}
	snapshot := *c
	l.mu.Unlock()

	l.persist(ctx, snapshot)
	if snapshot.Status == StatusViolated {
		l.emit(events.KindContractViolated, events.Fields{
			"contract_id": snapshot.ContractID,
			"task_id":     snapshot.TaskID,
			"delegatee":   snapshot.DelegateeNodeID,
			"violations":  snapshot.Reason,
		})
	} else {
		l.emit(events.KindContractCompleted, events.Fields{
			"contract_id": snapshot.ContractID,
			"task_id":     snapshot.TaskID,
			"delegatee":   snapshot.DelegateeNodeID,
		})
	}
	return Completion{Contract: snapshot, Violated: len(violations) > 0, Violations: violations}, nil
}

// Cancel terminates an active contract without judging the delegatee.
func (l *Ledger) Cancel(ctx context.Context, contractID, reason string) (DelegationContract, error) {
	l.mu.Lock()
	c, ok := l.contracts[contractID]
	if !ok {
		l.mu.Unlock()
		return DelegationContract{}, fmt.Errorf("%w: %s", ErrContractNotFound, contractID)
	}
	if c.Status.Terminal() {
		l.mu.Unlock()
		return DelegationContract{}, fmt.Errorf("%w: %s is %s", ErrContractNotActive, contractID, c.Status)
	}
	c.Status = StatusCancelled
	c.Reason = reason
	c.TerminatedAt = l.now()
	snapshot := *c
	l.mu.Unlock()

	l.persist(ctx, snapshot)
	l.logger.Debug("contract cancelled",
		zap.String("contract_id", contractID),
		zap.String("reason", reason),
	)
	return snapshot, nil
}

// Get returns a contract by id.
func (l *Ledger) Get(contractID string) (DelegationContract, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	c, ok := l.contracts[contractID]
	if !ok {
		return DelegationContract{}, false
	}
	return *c, true
}

// Active returns every active contract.
func (l *Ledger) Active() []DelegationContract {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]DelegationContract, 0)
	for _, c := range l.contracts {
		if c.Status == StatusActive {
			out = append(out, *c)
		}
	}
	return out
}

// Prune drops terminated contracts older than olderThan from memory.
func (l *Ledger) Prune(olderThan time.Duration) int {
	cutoff := l.now().Add(-olderThan)
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for id, c := range l.contracts {
		if c.Status.Terminal() && c.TerminatedAt.Before(cutoff) {
			delete(l.contracts, id)
			n++
		}
	}
	return n
}

func (l *Ledger) persist(ctx context.Context, c DelegationContract) {
	if l.store == nil {
		return
	}
	if err := l.store.Save(ctx, c); err != nil {
		l.logger.Warn("failed to persist contract",
			zap.String("contract_id", c.ContractID),
			zap.String("status", string(c.Status)),
			zap.Error(err),
		)
	}
}

func (l *Ledger) emit(kind events.Kind, fields events.Fields) {
	if err := events.Emit(l.emitter, kind, fields); err != nil {
		l.logger.Debug("emit failed", zap.Error(err))
	}
}
