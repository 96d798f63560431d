package distributor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/BaSui01/agentswarm/swarm/attestation"
	"github.com/BaSui01/agentswarm/swarm/authority"
	"github.com/BaSui01/agentswarm/swarm/contract"
	"github.com/BaSui01/agentswarm/swarm/events"
	"github.com/BaSui01/agentswarm/swarm/mesh"
	"github.com/BaSui01/agentswarm/swarm/rootcause"
	"github.com/BaSui01/agentswarm/types"
)

// errSettled means another path already finished the delegation and wrote
// its outcome.
var errSettled = errors.New("delegation already settled")

type taskState int

const (
	stateSending taskState = iota
	stateActive
	stateDone
)

// bondRef names a held bond by its escrow key.
type bondRef struct {
	taskID string
	nodeID string
}

func (b bondRef) held() bool { return b.taskID != "" }

// outcome is written exactly once to a delegation's done channel.
type outcome struct {
	taskID           string
	originalID       string
	peer             string
	contractID       string
	result           *types.SwarmTaskResult
	anomalies        []types.AnomalyReport
	checkpointMisses int
	err              error
}

func (o outcome) toResult(attempts int) *DistributeResult {
	return &DistributeResult{
		TaskID:           o.taskID,
		PeerNodeID:       o.peer,
		ContractID:       o.contractID,
		Result:           o.result,
		Attempts:         attempts,
		CheckpointMisses: o.checkpointMisses,
		Anomalies:        o.anomalies,
	}
}

type pendingTask struct {
	taskID        string
	originalID    string
	correlationID string
	peer          string
	contractID    string
	strategy      Strategy
	req           DistributeRequest
	grant         authority.Grant
	bond          bondRef
	sentAt        time.Time
	timeout       time.Duration

	state   taskState
	timer   *time.Timer
	monitor *checkpointMonitor
	early   *types.SwarmTaskResult
	done    chan outcome
}

// ActiveDelegation is a snapshot of one in-flight delegation.
type ActiveDelegation struct {
	TaskID           string         `json:"task_id"`
	OriginalTaskID   string         `json:"original_task_id"`
	PeerNodeID       string         `json:"peer_node_id"`
	CorrelationID    string         `json:"correlation_id"`
	ContractID       string         `json:"contract_id"`
	Strategy         Strategy       `json:"strategy"`
	TrustTier        authority.Tier `json:"trust_tier"`
	Priority         int            `json:"priority,omitempty"`
	SentAt           time.Time      `json:"sent_at"`
	TimeoutMs        int64          `json:"timeout_ms"`
	CheckpointMisses int            `json:"checkpoint_misses"`
	Redelegations    int            `json:"redelegations"`
}

// delegateAndWait runs one delegation to peerID and blocks for its outcome.
func (d *Distributor) delegateAndWait(ctx context.Context, req DistributeRequest, peerID string,
	strategy Strategy, bond bondRef) (outcome, error) {
	done := make(chan outcome, 1)
	taskID := uuid.NewString()
	p, err := d.prepare(ctx, req, peerID, strategy, bond, taskID, taskID, done)
	if err != nil {
		return outcome{}, err
	}
	if err := d.launch(ctx, p); err != nil {
		if errors.Is(err, errSettled) {
			out := <-done
			return out, out.err
		}
		return outcome{}, err
	}

	select {
	case out := <-done:
		return out, out.err
	case <-ctx.Done():
		d.CancelTask(taskID, "caller cancelled")
		return outcome{}, ctx.Err()
	}
}

// prepare derives the authority grant for peerID and holds its bond.
func (d *Distributor) prepare(ctx context.Context, req DistributeRequest, peerID string, strategy Strategy,
	bond bondRef, taskID, originalID string, done chan outcome) (*pendingTask, error) {
	trust := d.deps.Reputation.GetTrustScore(peerID)
	grant := authority.FromTrust(trust, d.baseSLO(req.Constraints), d.config.BaseMonitoring,
		baseBoundary(req.Constraints), d.config.Authority)

	if !bond.held() {
		var err error
		if bond, err = d.holdBond(ctx, taskID, peerID, grant.SLO.MaxCostUSD); err != nil {
			return nil, err
		}
	}
	return &pendingTask{
		taskID:        taskID,
		originalID:    originalID,
		correlationID: uuid.NewString(),
		peer:          peerID,
		strategy:      strategy,
		req:           req,
		grant:         grant,
		bond:          bond,
		timeout:       d.timeoutFor(grant),
		state:         stateSending,
		done:          done,
	}, nil
}

// launch registers p, sends it to its peer and activates it on acceptance.
func (d *Distributor) launch(ctx context.Context, p *pendingTask) error {
	ctx, span := tracer.Start(ctx, "distributor.delegate")
	defer span.End()
	span.SetAttributes(
		attribute.String("task_id", p.taskID),
		attribute.String("peer", p.peer),
		attribute.String("trust_tier", string(p.grant.TrustTier)),
	)

	d.mu.Lock()
	d.tasks[p.taskID] = p
	d.byOriginal[p.originalID] = p.taskID
	d.mu.Unlock()

	resp, err := d.deps.Mesh.DelegateTask(ctx, p.peer, mesh.DelegateRequest{
		TaskID:             p.taskID,
		CorrelationID:      p.correlationID,
		TaskText:           p.req.TaskText,
		SessionID:          p.req.SessionID,
		Constraints:        p.req.Constraints,
		ParentChain:        p.req.ParentChain,
		Priority:           p.req.Priority,
		SLO:                &p.grant.SLO,
		Monitoring:         &p.grant.Monitoring,
		PermissionBoundary: p.grant.PermissionBoundary,
	})
	if err != nil || !resp.Accepted {
		reason := resp.Reason
		if err != nil {
			reason = err.Error()
		}
		if !d.take(p) {
			return errSettled
		}
		d.settleBond(context.WithoutCancel(ctx), p, 0, "rejected")
		span.SetAttributes(attribute.String("rejected", reason))
		return fmt.Errorf("%w: %s: %s", ErrPeerRejected, p.peer, reason)
	}

	finalID := p.taskID
	if resp.TaskID != "" {
		finalID = resp.TaskID
	}
	c := d.deps.Contracts.Create(ctx, contract.Terms{
		DelegatorNodeID:    d.deps.Mesh.GetIdentity().NodeID,
		DelegateeNodeID:    p.peer,
		TaskID:             finalID,
		TaskText:           p.req.TaskText,
		SLO:                p.grant.SLO,
		Monitoring:         p.grant.Monitoring,
		PermissionBoundary: p.grant.PermissionBoundary,
	})

	d.mu.Lock()
	if p.state != stateSending {
		d.mu.Unlock()
		if _, err := d.deps.Contracts.Cancel(context.WithoutCancel(ctx), c.ContractID, "cancelled before activation"); err != nil {
			d.logger.Warn("failed to cancel contract", zap.String("contract_id", c.ContractID), zap.Error(err))
		}
		return errSettled
	}
	if finalID != p.taskID {
		if _, clash := d.tasks[finalID]; clash {
			d.logger.Warn("peer returned a task id already in flight; keeping proposed id",
				zap.String("proposed", p.taskID), zap.String("returned", finalID))
		} else {
			delete(d.tasks, p.taskID)
			p.taskID = finalID
			d.tasks[finalID] = p
			d.byOriginal[p.originalID] = finalID
		}
	}
	p.contractID = c.ContractID
	p.state = stateActive
	p.sentAt = d.now()
	p.timer = time.AfterFunc(p.timeout, func() { d.onTimeout(p) })
	p.monitor = d.startMonitor(p)
	early := p.early
	n := d.activeCountLocked()
	d.mu.Unlock()
	d.deps.Recorder.SetActiveDelegations(n)

	d.logger.Info("task delegated",
		zap.String("task_id", p.taskID),
		zap.String("peer", p.peer),
		zap.String("contract_id", p.contractID),
		zap.String("trust_tier", string(p.grant.TrustTier)),
		zap.Duration("timeout", p.timeout),
	)

	if early != nil && d.take(p) {
		d.finalize(context.WithoutCancel(ctx), p, early)
	}
	return nil
}

// ResolveTask matches result to its pending delegation and settles it.
// Only the current task id resolves: unknown, settled or torn-down task ids
// return false, as does a result naming a peer other than the delegatee.
func (d *Distributor) ResolveTask(ctx context.Context, result *types.SwarmTaskResult) bool {
	if result == nil || result.TaskID == "" {
		return false
	}
	d.mu.Lock()
	p, ok := d.tasks[result.TaskID]
	if !ok {
		d.mu.Unlock()
		d.logger.Debug("result for unknown task", zap.String("task_id", result.TaskID))
		return false
	}
	if result.PeerNodeID != "" && result.PeerNodeID != p.peer {
		d.mu.Unlock()
		d.logger.Warn("result from a peer that does not hold the delegation",
			zap.String("task_id", result.TaskID),
			zap.String("claimed", result.PeerNodeID),
			zap.String("delegatee", p.peer),
		)
		return false
	}
	if p.state == stateSending {
		if p.early != nil {
			d.mu.Unlock()
			return false
		}
		r := *result
		p.early = &r
		d.mu.Unlock()
		return true
	}
	d.takeLocked(p)
	n := d.activeCountLocked()
	d.mu.Unlock()
	d.deps.Recorder.SetActiveDelegations(n)

	d.finalize(ctx, p, result)
	return true
}

// finalize runs the resolution pipeline for a taken delegation.
func (d *Distributor) finalize(ctx context.Context, p *pendingTask, result *types.SwarmTaskResult) {
	misses, checkpointAnomalies := p.monitor.stop()

	r := *result
	if v := attestation.VerifyResultChain(&r, d.deps.Mesh.GetSwarmToken(), d.deps.KeyResolver); !v.Valid {
		fields := events.Fields{
			"task_id":      p.taskID,
			"peer_node_id": p.peer,
			"reason":       v.Reason,
		}
		if v.InvalidAtDepth != nil {
			fields["invalid_at_depth"] = *v.InvalidAtDepth
		}
		d.emit(events.KindAttestationChainInvalid, fields)
		d.logger.Warn("attestation chain invalid",
			zap.String("task_id", p.taskID),
			zap.String("peer", p.peer),
			zap.String("reason", v.Reason),
		)
	}
	r.PeerNodeID = p.peer

	obs := rootcause.Observation{Result: &r, SLO: &p.grant.SLO}
	if h, ok := d.deps.Reputation.GetReputation(p.peer); ok {
		obs.History = &h
	}
	anomalies := append(checkpointAnomalies, d.deps.Detector.Detect(obs)...)

	d.deps.Reputation.RecordOutcome(ctx, p.peer, &r)

	violated := false
	if p.contractID != "" {
		comp, err := d.deps.Contracts.Complete(ctx, p.contractID, &r)
		if err != nil {
			d.logger.Warn("failed to complete contract", zap.String("contract_id", p.contractID), zap.Error(err))
		}
		violated = comp.Violated
	}
	if violated {
		d.settleBond(ctx, p, d.config.Bond.Slash.ViolationPct, "contract_violated")
	} else {
		d.settleBond(ctx, p, 0, "completed")
	}

	d.redelegations.remove(p.originalID)

	if d.deps.Signer != nil {
		r.AttestationChain = d.deps.Signer.Extend(r.AttestationChain, &r)
	}

	d.deliver(p, outcome{
		result:           &r,
		anomalies:        anomalies,
		checkpointMisses: misses,
	})
}

func (d *Distributor) onTimeout(p *pendingTask) {
	if !d.take(p) {
		return
	}
	ctx := context.Background()
	p.monitor.stop()
	d.settleBond(ctx, p, d.config.Bond.Slash.TimeoutPct, "timeout")
	d.cancelContract(ctx, p, "delegation timed out")
	d.redelegations.remove(p.originalID)

	d.emit(events.KindDelegationTimedOut, events.Fields{
		"task_id":      p.taskID,
		"peer_node_id": p.peer,
		"timeout_ms":   p.timeout.Milliseconds(),
	})
	d.logger.Warn("delegation timed out",
		zap.String("task_id", p.taskID),
		zap.String("peer", p.peer),
		zap.Duration("timeout", p.timeout),
	)
	d.deliver(p, outcome{err: fmt.Errorf("%w: peer %s after %s", ErrDelegationTimeout, p.peer, p.timeout)})
}

// CancelTask rejects the pending delegation for taskID, which may be the
// current or the original task id. It is idempotent.
func (d *Distributor) CancelTask(taskID, reason string) bool {
	d.mu.Lock()
	p := d.lookupLocked(taskID)
	if p == nil || !d.takeLocked(p) {
		d.mu.Unlock()
		return false
	}
	n := d.activeCountLocked()
	d.mu.Unlock()
	d.deps.Recorder.SetActiveDelegations(n)

	d.cancel(p, reason)
	return true
}

// CancelAll rejects every pending delegation and returns how many there were.
func (d *Distributor) CancelAll(reason string) int {
	d.mu.Lock()
	taken := make([]*pendingTask, 0, len(d.tasks))
	for _, p := range d.tasks {
		if d.takeLocked(p) {
			taken = append(taken, p)
		}
	}
	d.mu.Unlock()
	d.deps.Recorder.SetActiveDelegations(0)

	for _, p := range taken {
		d.cancel(p, reason)
	}
	return len(taken)
}

func (d *Distributor) cancel(p *pendingTask, reason string) {
	if reason == "" {
		reason = "cancelled"
	}
	d.teardown(context.Background(), p, reason)
	d.redelegations.remove(p.originalID)
	d.logger.Info("delegation cancelled", zap.String("task_id", p.taskID), zap.String("reason", reason))
	d.deliver(p, outcome{err: fmt.Errorf("%w: %s", ErrDelegationCancelled, reason)})
}

// teardown frees everything a taken delegation holds without judging the peer.
func (d *Distributor) teardown(ctx context.Context, p *pendingTask, reason string) {
	p.monitor.stop()
	d.cancelContract(ctx, p, reason)
	d.settleBond(ctx, p, 0, reason)
}

func (d *Distributor) cancelContract(ctx context.Context, p *pendingTask, reason string) {
	if p.contractID == "" {
		return
	}
	if _, err := d.deps.Contracts.Cancel(ctx, p.contractID, reason); err != nil {
		d.logger.Warn("failed to cancel contract", zap.String("contract_id", p.contractID), zap.Error(err))
	}
}

func (d *Distributor) deliver(p *pendingTask, out outcome) {
	out.taskID = p.taskID
	out.originalID = p.originalID
	out.peer = p.peer
	out.contractID = p.contractID
	select {
	case p.done <- out:
	default:
		d.logger.Error("delegation outcome dropped", zap.String("task_id", p.taskID))
	}
}

// take removes p from the arena. Only the first caller gets true.
func (d *Distributor) take(p *pendingTask) bool {
	d.mu.Lock()
	ok := d.takeLocked(p)
	n := d.activeCountLocked()
	d.mu.Unlock()
	if ok {
		d.deps.Recorder.SetActiveDelegations(n)
	}
	return ok
}

func (d *Distributor) takeLocked(p *pendingTask) bool {
	if p.state == stateDone {
		return false
	}
	if cur, ok := d.tasks[p.taskID]; ok && cur == p {
		delete(d.tasks, p.taskID)
	}
	if d.byOriginal[p.originalID] == p.taskID {
		delete(d.byOriginal, p.originalID)
	}
	p.state = stateDone
	if p.timer != nil {
		p.timer.Stop()
	}
	return true
}

func (d *Distributor) lookupLocked(taskID string) *pendingTask {
	if p, ok := d.tasks[taskID]; ok {
		return p
	}
	if cur, ok := d.byOriginal[taskID]; ok {
		return d.tasks[cur]
	}
	return nil
}

func (d *Distributor) activeCountLocked() int {
	n := 0
	for _, p := range d.tasks {
		if p.state == stateActive {
			n++
		}
	}
	return n
}

func (d *Distributor) snapshotLocked(p *pendingTask) ActiveDelegation {
	return ActiveDelegation{
		TaskID:           p.taskID,
		OriginalTaskID:   p.originalID,
		PeerNodeID:       p.peer,
		CorrelationID:    p.correlationID,
		ContractID:       p.contractID,
		Strategy:         p.strategy,
		TrustTier:        p.grant.TrustTier,
		Priority:         p.req.Priority,
		SentAt:           p.sentAt,
		TimeoutMs:        p.timeout.Milliseconds(),
		CheckpointMisses: p.monitor.missCount(),
		Redelegations:    d.redelegations.attempts(p.originalID),
	}
}

// GetActiveDelegations lists accepted, unsettled delegations oldest first.
func (d *Distributor) GetActiveDelegations() []ActiveDelegation {
	d.mu.Lock()
	out := make([]ActiveDelegation, 0, len(d.tasks))
	for _, p := range d.tasks {
		if p.state == stateActive {
			out = append(out, d.snapshotLocked(p))
		}
	}
	d.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].SentAt.Equal(out[j].SentAt) {
			return out[i].SentAt.Before(out[j].SentAt)
		}
		return out[i].TaskID < out[j].TaskID
	})
	return out
}

// GetActiveDelegation returns the delegation for a current or original task id.
func (d *Distributor) GetActiveDelegation(taskID string) (ActiveDelegation, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p := d.lookupLocked(taskID)
	if p == nil || p.state != stateActive {
		return ActiveDelegation{}, false
	}
	return d.snapshotLocked(p), true
}

// ActiveCount is the number of accepted, unsettled delegations.
func (d *Distributor) ActiveCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.activeCountLocked()
}

func (d *Distributor) timeoutFor(grant authority.Grant) time.Duration {
	if grant.SLO.MaxDurationMs > 0 {
		return time.Duration(grant.SLO.MaxDurationMs)*time.Millisecond + d.config.TimeoutGrace
	}
	return d.config.DelegationTimeout
}

// baseSLO tightens the configured base SLO with the request's own limits.
func (d *Distributor) baseSLO(c *types.TaskConstraints) types.ContractSLO {
	slo := d.config.BaseSLO
	if c == nil {
		return slo
	}
	if c.MaxDurationMs > 0 && (slo.MaxDurationMs == 0 || c.MaxDurationMs < slo.MaxDurationMs) {
		slo.MaxDurationMs = c.MaxDurationMs
	}
	if c.MaxTokens > 0 && (slo.MaxTokens == 0 || c.MaxTokens < slo.MaxTokens) {
		slo.MaxTokens = c.MaxTokens
	}
	if c.MaxCostUSD > 0 && (slo.MaxCostUSD == 0 || c.MaxCostUSD < slo.MaxCostUSD) {
		slo.MaxCostUSD = c.MaxCostUSD
	}
	return slo
}

func baseBoundary(c *types.TaskConstraints) *types.ContractPermissionBoundary {
	if c == nil || (len(c.ToolAllowlist) == 0 && len(c.ReadonlyPaths) == 0) {
		return nil
	}
	b := &types.ContractPermissionBoundary{}
	if len(c.ToolAllowlist) > 0 {
		b.ToolAllowlist = append([]string(nil), c.ToolAllowlist...)
	}
	if len(c.ReadonlyPaths) > 0 {
		b.ReadonlyPaths = append([]string(nil), c.ReadonlyPaths...)
	}
	return b
}
