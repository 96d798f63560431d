package distributor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/BaSui01/agentswarm/swarm/attestation"
	"github.com/BaSui01/agentswarm/swarm/auction"
	"github.com/BaSui01/agentswarm/swarm/contract"
	"github.com/BaSui01/agentswarm/swarm/escrow"
	"github.com/BaSui01/agentswarm/swarm/events"
	"github.com/BaSui01/agentswarm/swarm/mesh"
	"github.com/BaSui01/agentswarm/swarm/pareto"
	"github.com/BaSui01/agentswarm/swarm/reputation"
	"github.com/BaSui01/agentswarm/swarm/rootcause"
	"github.com/BaSui01/agentswarm/types"
)

var tracer = otel.Tracer("github.com/BaSui01/agentswarm/swarm/distributor")

// Recorder receives delegation metrics.
type Recorder interface {
	ObserveDelegation(strategy, outcome string, d time.Duration)
	SetActiveDelegations(n int)
}

type nopRecorder struct{}

func (nopRecorder) ObserveDelegation(string, string, time.Duration) {}
func (nopRecorder) SetActiveDelegations(int)                        {}

type multiRecorder []Recorder

func (m multiRecorder) ObserveDelegation(strategy, outcome string, d time.Duration) {
	for _, r := range m {
		r.ObserveDelegation(strategy, outcome, d)
	}
}

func (m multiRecorder) SetActiveDelegations(n int) {
	for _, r := range m {
		r.SetActiveDelegations(n)
	}
}

// Recorders fans metrics out to every non-nil recorder.
func Recorders(rs ...Recorder) Recorder {
	out := make(multiRecorder, 0, len(rs))
	for _, r := range rs {
		if r != nil {
			out = append(out, r)
		}
	}
	return out
}

// Dependencies are the distributor's collaborators. Mesh, Reputation and
// Contracts are required; the rest are optional.
type Dependencies struct {
	Mesh        mesh.Mesh
	Reputation  *reputation.Ledger
	Contracts   *contract.Ledger
	Escrow      escrow.Ledger
	Pareto      *pareto.Selector
	Auction     *auction.Auction
	Analyzer    *rootcause.Analyzer
	Detector    *rootcause.Detector
	Signer      *attestation.Signer
	KeyResolver attestation.KeyResolver
	Emitter     events.Emitter
	Recorder    Recorder
}

// DistributeRequest is one task to hand off.
type DistributeRequest struct {
	TaskText    string                  `json:"task_text"`
	SessionID   string                  `json:"session_id"`
	Constraints *types.TaskConstraints  `json:"constraints,omitempty"`
	ParentChain *types.AttestationChain `json:"parent_chain,omitempty"`
	Priority    int                     `json:"priority,omitempty"`
	Attributes  *types.TaskAttributes   `json:"task_attributes,omitempty"`
	// Strategy overrides the configured strategy when set.
	Strategy Strategy `json:"strategy,omitempty"`
}

// DistributeResult is what Distribute returns. On a failed delegation it is
// returned together with the error and carries the diagnosis.
type DistributeResult struct {
	TaskID           string                 `json:"task_id"`
	PeerNodeID       string                 `json:"peer_node_id"`
	ContractID       string                 `json:"contract_id,omitempty"`
	Result           *types.SwarmTaskResult `json:"result"`
	Attempts         int                    `json:"attempts"`
	CheckpointMisses int                    `json:"checkpoint_misses,omitempty"`
	Anomalies        []types.AnomalyReport  `json:"anomalies,omitempty"`
	Diagnosis        *rootcause.Diagnosis   `json:"diagnosis,omitempty"`
	Response         rootcause.Response     `json:"response,omitempty"`
}

// Distributor orchestrates delegations.
type Distributor struct {
	mu         sync.Mutex
	tasks      map[string]*pendingTask // current task id -> delegation
	byOriginal map[string]string       // original task id -> current task id

	redelegations *redelegationMonitor
	quarantine    *quarantine
	rrOffset      atomic.Uint64

	config Config
	deps   Dependencies
	logger *zap.Logger
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
}

// New creates a distributor. Missing Pareto, Analyzer and Detector
// collaborators are created with defaults.
func New(config Config, deps Dependencies, logger *zap.Logger) *Distributor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Recorder == nil {
		deps.Recorder = nopRecorder{}
	}
	if deps.Pareto == nil {
		deps.Pareto = pareto.NewSelector(config.Weights, deps.Emitter, logger)
	}
	if deps.Analyzer == nil {
		deps.Analyzer = rootcause.NewAnalyzer(rootcause.DefaultConfig(), deps.Mesh, deps.Reputation, deps.Emitter, logger)
	}
	if deps.Detector == nil {
		deps.Detector = rootcause.NewDetector(rootcause.DefaultDetectorConfig(), deps.Emitter, logger)
	}
	if config.Strategy == "" {
		config.Strategy = StrategyReputation
	}
	d := &Distributor{
		tasks:         make(map[string]*pendingTask),
		byOriginal:    make(map[string]string),
		redelegations: newRedelegationMonitor(),
		config:        config,
		deps:          deps,
		logger:        logger.With(zap.String("component", "work_distributor")),
		now:           time.Now,
		sleep:         sleepContext,
	}
	d.quarantine = newQuarantine(func() time.Time { return d.now() })
	return d
}

// Config returns the distributor configuration.
func (d *Distributor) Config() Config { return d.config }

// Distribute selects peers and delegates req until one returns a
// successful result or the attempts run out.
func (d *Distributor) Distribute(ctx context.Context, req DistributeRequest) (*DistributeResult, error) {
	strategy := req.Strategy
	if strategy == "" {
		strategy = d.config.Strategy
	}
	if !strategy.Valid() {
		return nil, types.NewError(types.ErrInvalidRequest, fmt.Sprintf("unknown strategy %q", strategy)).
			WithHTTPStatus(types.StatusForCode(types.ErrInvalidRequest))
	}
	if req.TaskText == "" {
		return nil, types.NewError(types.ErrInvalidRequest, "task_text is required").
			WithHTTPStatus(types.StatusForCode(types.ErrInvalidRequest))
	}

	ctx, span := tracer.Start(ctx, "distributor.distribute")
	defer span.End()
	span.SetAttributes(
		attribute.String("strategy", string(strategy)),
		attribute.String("session_id", req.SessionID),
	)

	start := d.now()
	var (
		res *DistributeResult
		err error
	)
	if strategy == StrategyAuction {
		res, err = d.distributeByAuction(ctx, req)
	} else {
		res, err = d.distributeDirect(ctx, req, strategy)
	}
	d.deps.Recorder.ObserveDelegation(string(strategy), outcomeLabel(res, err), d.now().Sub(start))

	peer := ""
	if res != nil {
		peer = res.PeerNodeID
		span.SetAttributes(attribute.String("peer", peer), attribute.Int("attempts", res.Attempts))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return res, err
		}
		return res, asTypedError(err, peer)
	}
	return res, nil
}

func (d *Distributor) distributeDirect(ctx context.Context, req DistributeRequest, strategy Strategy) (*DistributeResult, error) {
	candidates := d.rank(req, strategy, nil)
	if len(candidates) == 0 {
		return nil, ErrNoSuitablePeers
	}

	var (
		lastErr  error
		last     *DistributeResult
		failures int
		attempts int
	)
	maxAttempts := d.config.MaxRetries + 1
	for idx := 0; idx < len(candidates) && attempts < maxAttempts; {
		peerID := candidates[idx].NodeID()
		// rank filtered quarantine once; a failed attempt may quarantine later candidates.
		if d.quarantine.has(peerID) {
			idx++
			continue
		}
		attempts++

		out, err := d.delegateAndWait(ctx, req, peerID, strategy, bondRef{})
		if ctxErr := ctx.Err(); ctxErr != nil {
			return last, ctxErr
		}
		if errors.Is(err, ErrDelegationCancelled) || errors.Is(err, ErrRedelegationExhausted) {
			return last, err
		}
		if err != nil {
			d.logger.Info("delegation attempt failed",
				zap.String("peer", peerID),
				zap.Int("attempt", attempts),
				zap.Error(err),
			)
			lastErr = err
			idx++
			continue
		}

		res := out.toResult(attempts)
		if out.result.Succeeded() {
			return res, nil
		}

		failures++
		diag, response := d.diagnose(out, failures, req.Attributes)
		res.Diagnosis = &diag
		res.Response = response
		last = res
		lastErr = fmt.Errorf("%w: peer %s reported %s", ErrDelegationFailed, out.peer, out.result.Status)

		switch response {
		case rootcause.ResponseWaitAndRetry:
			if err := d.sleep(ctx, d.config.RetryBackoff); err != nil {
				return last, err
			}
		case rootcause.ResponseQuarantineAndRedelegate:
			d.Quarantine(out.peer)
			d.emitRedelegated(out.taskID, out.peer, string(response))
			idx++
		case rootcause.ResponseRedelegate, rootcause.ResponseDecomposeAndRedelegate:
			d.emitRedelegated(out.taskID, out.peer, string(response))
			idx++
		default:
			return last, lastErr
		}
	}
	if lastErr == nil {
		lastErr = ErrNoSuitablePeers
	}
	return last, lastErr
}

func (d *Distributor) distributeByAuction(ctx context.Context, req DistributeRequest) (*DistributeResult, error) {
	if d.deps.Auction == nil {
		return nil, fmt.Errorf("%w: auction strategy is not configured", ErrAuctionFailed)
	}
	rec, err := d.deps.Auction.CreateAuction(ctx, req.TaskText, req.SessionID, req.Constraints, req.Constraints.RequiredCapabilities())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuctionFailed, err)
	}
	rfqID := rec.RFQ.RFQID

	var wait time.Duration
	if d.config.AuctionFastPath {
		wait = d.config.FastPathWait
	}
	if _, err := d.deps.Auction.AwaitBids(ctx, rfqID, wait); err != nil {
		d.deps.Auction.CancelAuction(context.WithoutCancel(ctx), rfqID)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: %v", ErrAuctionFailed, err)
	}

	award := d.deps.Auction.AwardAuction(ctx, rfqID)
	if !award.Awarded || award.WinningBid == nil {
		d.deps.Auction.CancelAuction(ctx, rfqID)
		return nil, fmt.Errorf("%w: %s", ErrAuctionFailed, award.Reason)
	}

	winner := award.WinningBid.BidderNodeID
	var bond bondRef
	if award.WinningBid.ReputationBond != nil && award.WinningBid.ReputationBond.AmountUSD > 0 {
		bond = bondRef{taskID: rfqID, nodeID: winner}
	}
	out, err := d.delegateAndWait(ctx, req, winner, StrategyAuction, bond)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return &DistributeResult{PeerNodeID: winner, Attempts: 1}, err
	}
	res := out.toResult(1)
	if out.result.Succeeded() {
		return res, nil
	}
	diag, response := d.diagnose(out, 1, req.Attributes)
	res.Diagnosis = &diag
	res.Response = response
	if response == rootcause.ResponseQuarantineAndRedelegate {
		d.Quarantine(out.peer)
	}
	return res, fmt.Errorf("%w: peer %s reported %s", ErrDelegationFailed, out.peer, out.result.Status)
}

func (d *Distributor) diagnose(out outcome, failures int, attrs *types.TaskAttributes) (rootcause.Diagnosis, rootcause.Response) {
	diag := d.deps.Analyzer.Diagnose(rootcause.Input{
		TaskID:           out.taskID,
		PeerNodeID:       out.peer,
		CheckpointMisses: out.checkpointMisses,
		Anomalies:        out.anomalies,
		FailureCount:     failures,
		TaskAttributes:   attrs,
	})
	response := rootcause.SelectResponse(diag, attrs)
	d.logger.Info("delegation failed",
		zap.String("task_id", out.taskID),
		zap.String("peer", out.peer),
		zap.String("root_cause", string(diag.RootCause)),
		zap.String("response", string(response)),
	)
	return diag, response
}

// Quarantine excludes nodeID from selection for the configured duration.
func (d *Distributor) Quarantine(nodeID string) time.Time {
	exp := d.quarantine.add(nodeID, d.config.QuarantineDuration)
	d.logger.Warn("peer quarantined", zap.String("peer", nodeID), zap.Time("until", exp))
	return exp
}

// Release lifts a quarantine early.
func (d *Distributor) Release(nodeID string) bool { return d.quarantine.remove(nodeID) }

// IsQuarantined reports whether nodeID is excluded from selection.
func (d *Distributor) IsQuarantined(nodeID string) bool { return d.quarantine.has(nodeID) }

// Quarantined lists quarantined peers.
func (d *Distributor) Quarantined() []string { return d.quarantine.list() }

func (d *Distributor) emit(kind events.Kind, fields events.Fields) {
	if err := events.Emit(d.deps.Emitter, kind, fields); err != nil {
		d.logger.Debug("emit failed", zap.String("kind", string(kind)), zap.Error(err))
	}
}

func (d *Distributor) emitRedelegated(taskID, from, reason string) {
	d.emit(events.KindTaskRedelegated, events.Fields{
		"task_id":   taskID,
		"from_peer": from,
		"reason":    reason,
	})
}

func outcomeLabel(res *DistributeResult, err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrNoSuitablePeers):
		return "no_peers"
	case errors.Is(err, ErrDelegationTimeout):
		return "timeout"
	case errors.Is(err, ErrDelegationCancelled), errors.Is(err, context.Canceled):
		return "cancelled"
	case errors.Is(err, ErrAuctionFailed):
		return "auction_failed"
	case errors.Is(err, ErrPeerRejected), errors.Is(err, ErrBondRejected):
		return "rejected"
	case res != nil && res.Diagnosis != nil:
		return "failed"
	default:
		return "error"
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
