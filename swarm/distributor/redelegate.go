package distributor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/agentswarm/swarm/events"
)

// redelegationMonitor tracks, per original task id, how many times a task
// has moved and which peers it has failed on.
type redelegationMonitor struct {
	mu     sync.Mutex
	byTask map[string]*redelegationTrack
}

type redelegationTrack struct {
	attempts int
	failed   map[string]bool
}

func newRedelegationMonitor() *redelegationMonitor {
	return &redelegationMonitor{byTask: make(map[string]*redelegationTrack)}
}

// record counts one more move of originalID away from failedPeer and
// returns the attempt number and every peer failed so far.
func (m *redelegationMonitor) record(originalID, failedPeer string) (int, map[string]bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.byTask[originalID]
	if !ok {
		t = &redelegationTrack{failed: make(map[string]bool)}
		m.byTask[originalID] = t
	}
	t.attempts++
	t.failed[failedPeer] = true
	failed := make(map[string]bool, len(t.failed))
	for id := range t.failed {
		failed[id] = true
	}
	return t.attempts, failed
}

func (m *redelegationMonitor) attempts(originalID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.byTask[originalID]; ok {
		return t.attempts
	}
	return 0
}

func (m *redelegationMonitor) remove(originalID string) {
	m.mu.Lock()
	delete(m.byTask, originalID)
	m.mu.Unlock()
}

func (m *redelegationMonitor) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byTask)
}

// HandlePeerDegradation tears down every active delegation held by a
// degraded peer and moves it to a healthy peer within the redelegation
// budget. It blocks while replacement delegations are sent and returns the
// number of delegations affected.
func (d *Distributor) HandlePeerDegradation(ctx context.Context, degradedPeerIDs []string) int {
	if len(degradedPeerIDs) == 0 {
		return 0
	}
	degraded := make(map[string]bool, len(degradedPeerIDs))
	for _, id := range degradedPeerIDs {
		degraded[id] = true
	}

	d.mu.Lock()
	var affected []*pendingTask
	for _, p := range d.tasks {
		if p.state == stateActive && degraded[p.peer] && d.takeLocked(p) {
			affected = append(affected, p)
		}
	}
	n := d.activeCountLocked()
	d.mu.Unlock()
	if len(affected) == 0 {
		return 0
	}
	d.deps.Recorder.SetActiveDelegations(n)
	sort.Slice(affected, func(i, j int) bool { return affected[i].originalID < affected[j].originalID })

	ctx = context.WithoutCancel(ctx)
	for _, p := range affected {
		d.teardown(ctx, p, "peer degraded")
		d.logger.Warn("delegation lost to degraded peer",
			zap.String("task_id", p.taskID),
			zap.String("peer", p.peer),
		)
		d.redelegate(ctx, p, degraded)
	}
	return len(affected)
}

// redelegate moves a torn-down delegation to the best remaining peer,
// skipping peers that reject it, until one accepts or the budget runs out.
func (d *Distributor) redelegate(ctx context.Context, p *pendingTask, degraded map[string]bool) {
	strategy := p.strategy
	if strategy == StrategyAuction || strategy == StrategyRoundRobin {
		strategy = StrategyReputation
	}
	from := p.peer
	for {
		attempt, failed := d.redelegations.record(p.originalID, from)
		if attempt > d.config.MaxRedelegations {
			d.redelegations.remove(p.originalID)
			d.deliver(p, outcome{err: fmt.Errorf("%w: task %s moved %d times",
				ErrRedelegationExhausted, p.originalID, attempt-1)})
			return
		}

		exclude := failed
		for id := range degraded {
			exclude[id] = true
		}
		candidates := d.rank(p.req, strategy, exclude)
		if len(candidates) == 0 {
			d.redelegations.remove(p.originalID)
			d.deliver(p, outcome{err: fmt.Errorf("%w: no eligible peer to take over task %s",
				ErrNoSuitablePeers, p.originalID)})
			return
		}
		target := candidates[0].NodeID()

		d.emit(events.KindTaskRedelegated, events.Fields{
			"task_id":   p.originalID,
			"from_peer": from,
			"to_peer":   target,
			"attempt":   attempt,
			"reason":    "peer_degraded",
		})

		next, err := d.prepare(ctx, p.req, target, p.strategy, bondRef{}, uuid.NewString(), p.originalID, p.done)
		if err == nil {
			err = d.launch(ctx, next)
			if err == nil || errors.Is(err, errSettled) {
				return
			}
		}
		d.logger.Info("redelegation attempt failed",
			zap.String("task_id", p.originalID),
			zap.String("peer", target),
			zap.Error(err),
		)
		if next != nil {
			p = next
		}
		from = target
	}
}
