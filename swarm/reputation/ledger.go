package reputation

import (
	"context"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/agentswarm/swarm/events"
	"github.com/BaSui01/agentswarm/types"
)

// DefaultTrustScore is returned for peers with no recorded history.
const DefaultTrustScore = 0.5

// latencySmoothing is the weight of each folded sample in AvgLatencyMs.
const latencySmoothing = 0.2

// PeerReputation is the aggregate outcome history of one peer.
type PeerReputation struct {
	NodeID               string    `json:"node_id"`
	TasksCompleted       int       `json:"tasks_completed"`
	TasksFailed          int       `json:"tasks_failed"`
	TasksAborted         int       `json:"tasks_aborted"`
	TotalDurationMs      int64     `json:"total_duration_ms"`
	TotalTokensUsed      int64     `json:"total_tokens_used"`
	TotalCostUSD         float64   `json:"total_cost_usd"`
	// AvgLatencyMs smooths observed exchange latency over every sample
	// except the newest, which is kept in LastLatencyMs.
	AvgLatencyMs         float64   `json:"avg_latency_ms"`
	LastLatencyMs        int64     `json:"last_latency_ms"`
	LatencySamples       int64     `json:"latency_samples"`
	ConsecutiveSuccesses int       `json:"consecutive_successes"`
	ConsecutiveFailures  int       `json:"consecutive_failures"`
	LastOutcomeAt        time.Time `json:"last_outcome_at"`
	TrustScore           float64   `json:"trust_score"`
}

// TotalTasks is the number of recorded outcomes.
func (r PeerReputation) TotalTasks() int {
	return r.TasksCompleted + r.TasksFailed + r.TasksAborted
}

// AvgDurationMs is the mean reported execution time per recorded outcome.
func (r PeerReputation) AvgDurationMs() float64 {
	n := r.TotalTasks()
	if n == 0 {
		return 0
	}
	return float64(r.TotalDurationMs) / float64(n)
}

// AvgCostUSD is the mean cost per recorded outcome.
func (r PeerReputation) AvgCostUSD() float64 {
	n := r.TotalTasks()
	if n == 0 {
		return 0
	}
	return r.TotalCostUSD / float64(n)
}

// Store persists reputations. Implementations must be safe for concurrent use.
type Store interface {
	LoadAll(ctx context.Context) ([]PeerReputation, error)
	Save(ctx context.Context, rep PeerReputation) error
}

// Ledger accumulates per-peer outcomes and derives trust scores.
type Ledger struct {
	mu      sync.RWMutex
	records map[string]*PeerReputation

	store   Store
	emitter events.Emitter
	logger  *zap.Logger
	now     func() time.Time
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithStore enables write-through persistence.
func WithStore(s Store) Option { return func(l *Ledger) { l.store = s } }

// WithEmitter publishes reputation_updated events.
func WithEmitter(e events.Emitter) Option { return func(l *Ledger) { l.emitter = e } }

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(l *Ledger) { l.now = now } }

// NewLedger creates an empty ledger.
func NewLedger(logger *zap.Logger, opts ...Option) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Ledger{
		records: make(map[string]*PeerReputation),
		logger:  logger.With(zap.String("component", "reputation_ledger")),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load warms the in-memory index from the store. Stored trust scores are
// re-derived from the counters rather than trusted as-is.
func (l *Ledger) Load(ctx context.Context) (int, error) {
	if l.store == nil {
		return 0, nil
	}
	reps, err := l.store.LoadAll(ctx)
	if err != nil {
		return 0, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range reps {
		rep := reps[i]
		rep.TrustScore = deriveTrust(&rep)
		l.records[rep.NodeID] = &rep
	}
	return len(reps), nil
}

// GetTrustScore returns the peer's trust in [0,1], or DefaultTrustScore for
// unknown peers.
func (l *Ledger) GetTrustScore(nodeID string) float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if rep, ok := l.records[nodeID]; ok {
		return rep.TrustScore
	}
	return DefaultTrustScore
}

// GetReputation returns a copy of the peer's record.
func (l *Ledger) GetReputation(nodeID string) (PeerReputation, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	rep, ok := l.records[nodeID]
	if !ok {
		return PeerReputation{}, false
	}
	return *rep, true
}

// All returns copies of every record.
func (l *Ledger) All() []PeerReputation {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]PeerReputation, 0, len(l.records))
	for _, rep := range l.records {
		out = append(out, *rep)
	}
	return out
}

// RecordOutcome folds result into the peer's history and re-derives its trust.
func (l *Ledger) RecordOutcome(ctx context.Context, nodeID string, result *types.SwarmTaskResult) PeerReputation {
	if result == nil {
		rep, _ := l.GetReputation(nodeID)
		return rep
	}

	l.mu.Lock()
	rep, ok := l.records[nodeID]
	if !ok {
		rep = &PeerReputation{NodeID: nodeID}
		l.records[nodeID] = rep
	}
	previous := rep.TrustScore
	if !ok {
		previous = DefaultTrustScore
	}

	switch result.Status {
	case types.TaskStatusCompleted:
		rep.TasksCompleted++
		rep.ConsecutiveSuccesses++
		rep.ConsecutiveFailures = 0
	case types.TaskStatusAborted:
		rep.TasksAborted++
		rep.ConsecutiveFailures++
		rep.ConsecutiveSuccesses = 0
	default:
		rep.TasksFailed++
		rep.ConsecutiveFailures++
		rep.ConsecutiveSuccesses = 0
	}

	rep.TotalDurationMs += max64(result.DurationMs, 0)
	rep.TotalTokensUsed += max64(result.TokensUsed, 0)
	if result.CostUSD > 0 {
		rep.TotalCostUSD += result.CostUSD
	}
	rep.LastOutcomeAt = l.now()
	rep.TrustScore = deriveTrust(rep)
	snapshot := *rep
	l.mu.Unlock()

	if l.store != nil {
		if err := l.store.Save(ctx, snapshot); err != nil {
			l.logger.Warn("failed to persist reputation",
				zap.String("node_id", nodeID),
				zap.Error(err),
			)
		}
	}

	if err := events.Emit(l.emitter, events.KindReputationUpdated, events.Fields{
		"node_id":        nodeID,
		"task_id":        result.TaskID,
		"status":         string(result.Status),
		"trust_score":    snapshot.TrustScore,
		"previous_score": previous,
	}); err != nil {
		l.logger.Debug("emit failed", zap.Error(err))
	}

	l.logger.Debug("reputation updated",
		zap.String("node_id", nodeID),
		zap.String("status", string(result.Status)),
		zap.Float64("trust_score", snapshot.TrustScore),
	)
	return snapshot
}

// RecordLatency folds one observed exchange latency into the peer's record.
// The previous newest sample joins the average, so AvgLatencyMs stays a
// baseline the newest sample can be compared against. Latency does not move
// trust and is persisted with the next outcome.
func (l *Ledger) RecordLatency(nodeID string, latency time.Duration) {
	if nodeID == "" || latency < 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	rep, ok := l.records[nodeID]
	if !ok {
		rep = &PeerReputation{NodeID: nodeID}
		rep.TrustScore = deriveTrust(rep)
		l.records[nodeID] = rep
	}
	if rep.LatencySamples > 0 {
		prev := float64(rep.LastLatencyMs)
		if rep.LatencySamples == 1 || rep.AvgLatencyMs == 0 {
			rep.AvgLatencyMs = prev
		} else {
			rep.AvgLatencyMs += latencySmoothing * (prev - rep.AvgLatencyMs)
		}
	}
	rep.LastLatencyMs = latency.Milliseconds()
	rep.LatencySamples++
}

// deriveTrust computes the trust score from a reputation's counters.
func deriveTrust(rep *PeerReputation) float64 {
	successes := float64(rep.TasksCompleted)
	failures := float64(rep.TasksFailed + rep.TasksAborted)
	base := (successes + 1) / (successes + failures + 2)

	bonus := math.Min(0.1, 0.02*float64(rep.ConsecutiveSuccesses))
	malus := math.Min(0.2, 0.05*float64(rep.ConsecutiveFailures))

	return clamp01(base + bonus - malus)
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

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
