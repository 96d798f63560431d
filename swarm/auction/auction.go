package auction

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/agentswarm/swarm/escrow"
	"github.com/BaSui01/agentswarm/swarm/events"
	"github.com/BaSui01/agentswarm/types"
)

var tracer = otel.Tracer("github.com/BaSui01/agentswarm/swarm/auction")

// ErrAuctionNotFound is returned for unknown RFQ ids.
var ErrAuctionNotFound = errors.New("auction not found")

// Status is the lifecycle state of an auction.
type Status string

const (
	StatusOpen       Status = "open"
	StatusCollecting Status = "collecting"
	StatusEvaluating Status = "evaluating"
	StatusAwarded    Status = "awarded"
	StatusExpired    Status = "expired"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether s is a final state.
func (s Status) Terminal() bool {
	return s == StatusAwarded || s == StatusExpired || s == StatusCancelled
}

// Bid rejection reasons.
const (
	ReasonUnknownAuction  = "unknown auction"
	ReasonNotCollecting   = "auction not accepting bids"
	ReasonDeadlinePassed  = "bid deadline passed"
	ReasonDuplicateBid    = "duplicate bid for bidder and round"
	ReasonRateLimited     = "bidder rate limited"
	ReasonBondUnavailable = "escrow unavailable for reputation bond"
	ReasonBondFailed      = "reputation bond hold failed"
	ReasonInvalidBid      = "invalid bid"
)

// Config tunes auctions.
type Config struct {
	BidDeadline          time.Duration        `json:"bid_deadline" yaml:"bid_deadline"`
	MinBidsToAward       int                  `json:"min_bids_to_award" yaml:"min_bids_to_award"`
	DefaultWeights       types.ScoringWeights `json:"default_weights" yaml:"default_weights"`
	DefaultMaxCostUSD    float64              `json:"default_max_cost_usd" yaml:"default_max_cost_usd"`
	DefaultMaxDurationMs int64                `json:"default_max_duration_ms" yaml:"default_max_duration_ms"`
	Retention            time.Duration        `json:"retention" yaml:"retention"`
	CleanupInterval      time.Duration        `json:"cleanup_interval" yaml:"cleanup_interval"`
	BroadcastConcurrency int                  `json:"broadcast_concurrency" yaml:"broadcast_concurrency"`
	BroadcastTimeout     time.Duration        `json:"broadcast_timeout" yaml:"broadcast_timeout"`
}

// DefaultConfig returns the standard auction settings.
func DefaultConfig() Config {
	return Config{
		BidDeadline:          30 * time.Second,
		MinBidsToAward:       1,
		DefaultWeights:       types.ScoringWeights{Trust: 0.35, Latency: 0.2, Cost: 0.25, Capability: 0.2},
		DefaultMaxCostUSD:    1.0,
		DefaultMaxDurationMs: 300000,
		Retention:            time.Hour,
		CleanupInterval:      5 * time.Minute,
		BroadcastConcurrency: 8,
		BroadcastTimeout:     5 * time.Second,
	}
}

// PeerSource lists the peers an RFQ is broadcast to.
type PeerSource interface {
	GetActivePeers() []types.PeerEntry
	GetIdentity() types.PeerIdentity
}

// RFQSender delivers an RFQ to one peer.
type RFQSender interface {
	SendRFQ(ctx context.Context, peerAddress string, rfq types.TaskRFQ) error
}

// TrustSource supplies trust scores for bid scoring.
type TrustSource interface {
	GetTrustScore(nodeID string) float64
}

// Dependencies are the collaborators an Auction uses. Escrow and Guard are
// optional.
type Dependencies struct {
	Peers   PeerSource
	Sender  RFQSender
	Trust   TrustSource
	Escrow  escrow.Ledger
	Guard   *Guard
	Emitter events.Emitter
}

// Record is a snapshot of one auction.
type Record struct {
	RFQ        types.TaskRFQ     `json:"rfq"`
	Status     Status            `json:"status"`
	Bids       []types.BidObject `json:"bids"`
	WinningBid *types.BidObject  `json:"winning_bid,omitempty"`
	Recipients int               `json:"recipients"`
	CreatedAt  time.Time         `json:"created_at"`
	SettledAt  time.Time         `json:"settled_at,omitempty"`
}

type auctionState struct {
	Record
	bonded map[string]bool // bidders with a held bond
	notify chan struct{}
}

// BidResult is the outcome of ReceiveBid.
type BidResult struct {
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
}

// AwardResult is the outcome of AwardAuction.
type AwardResult struct {
	Awarded    bool             `json:"awarded"`
	WinningBid *types.BidObject `json:"winning_bid,omitempty"`
	Score      float64          `json:"score,omitempty"`
	Reason     string           `json:"reason,omitempty"`
}

// Auction runs RFQ / bid / award cycles.
type Auction struct {
	mu       sync.Mutex
	auctions map[string]*auctionState

	config Config
	deps   Dependencies
	logger *zap.Logger
	now    func() time.Time
}

// New creates an Auction.
func New(config Config, deps Dependencies, logger *zap.Logger) *Auction {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Auction{
		auctions: make(map[string]*auctionState),
		config:   config,
		deps:     deps,
		logger:   logger.With(zap.String("component", "task_auction")),
		now:      time.Now,
	}
}

// Config returns the auction configuration.
func (a *Auction) Config() Config { return a.config }

// CreateAuction builds an RFQ, broadcasts it to every active peer and starts
// collecting bids.
func (a *Auction) CreateAuction(ctx context.Context, taskText, sessionID string,
	constraints *types.TaskConstraints, requiredCapabilities []string) (Record, error) {
	ctx, span := tracer.Start(ctx, "auction.create")
	defer span.End()

	origin := ""
	if a.deps.Peers != nil {
		origin = a.deps.Peers.GetIdentity().NodeID
	}
	rfq := types.TaskRFQ{
		RFQID:                uuid.NewString(),
		TaskText:             taskText,
		SessionID:            sessionID,
		Constraints:          constraints,
		RequiredCapabilities: append([]string(nil), requiredCapabilities...),
		BidDeadlineMs:        a.config.BidDeadline.Milliseconds(),
		Round:                1,
		OriginatorNodeID:     origin,
		Nonce:                uuid.NewString(),
		Timestamp:            a.now(),
	}
	span.SetAttributes(attribute.String("rfq_id", rfq.RFQID))

	st := &auctionState{
		// Peers may bid as soon as their copy of the RFQ lands.
		Record: Record{RFQ: rfq, Status: StatusCollecting, Bids: []types.BidObject{}, CreatedAt: rfq.Timestamp},
		bonded: make(map[string]bool),
		notify: make(chan struct{}, 1),
	}
	a.mu.Lock()
	a.auctions[rfq.RFQID] = st
	a.mu.Unlock()

	sent := a.broadcast(ctx, rfq)

	a.mu.Lock()
	st.Recipients = sent
	snapshot := st.snapshot()
	a.mu.Unlock()

	a.emit(events.KindAuctionCreated, events.Fields{
		"rfq_id":          rfq.RFQID,
		"session_id":      sessionID,
		"recipients":      sent,
		"bid_deadline_ms": rfq.BidDeadlineMs,
	})
	a.logger.Info("auction created",
		zap.String("rfq_id", rfq.RFQID),
		zap.Int("recipients", sent),
	)
	return snapshot, nil
}

func (a *Auction) broadcast(ctx context.Context, rfq types.TaskRFQ) int {
	if a.deps.Peers == nil || a.deps.Sender == nil {
		return 0
	}
	self := a.deps.Peers.GetIdentity().NodeID
	var targets []types.PeerEntry
	for _, p := range a.deps.Peers.GetActivePeers() {
		if p.Identity.NodeID != self {
			targets = append(targets, p)
		}
	}

	var (
		mu   sync.Mutex
		sent int
	)
	g, gctx := errgroup.WithContext(ctx)
	if a.config.BroadcastConcurrency > 0 {
		g.SetLimit(a.config.BroadcastConcurrency)
	}
	for _, p := range targets {
		p := p
		g.Go(func() error {
			sendCtx, cancel := context.WithTimeout(gctx, a.broadcastTimeout())
			defer cancel()
			if err := a.deps.Sender.SendRFQ(sendCtx, p.Identity.APIURL, rfq); err != nil {
				a.logger.Warn("rfq delivery failed",
					zap.String("rfq_id", rfq.RFQID),
					zap.String("peer", p.Identity.NodeID),
					zap.Error(err),
				)
				return nil
			}
			mu.Lock()
			sent++
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return sent
}

func (a *Auction) broadcastTimeout() time.Duration {
	if a.config.BroadcastTimeout > 0 {
		return a.config.BroadcastTimeout
	}
	return 5 * time.Second
}

// ReceiveBid validates bid and records it against its auction.
func (a *Auction) ReceiveBid(ctx context.Context, bid types.BidObject) BidResult {
	if bid.RFQID == "" || bid.BidderNodeID == "" {
		return a.reject(bid, ReasonInvalidBid)
	}

	a.mu.Lock()
	st, ok := a.auctions[bid.RFQID]
	if !ok {
		a.mu.Unlock()
		return a.reject(bid, ReasonUnknownAuction)
	}
	if st.Status != StatusCollecting {
		a.mu.Unlock()
		return a.reject(bid, ReasonNotCollecting)
	}
	if a.now().After(st.RFQ.Deadline()) {
		a.mu.Unlock()
		return a.reject(bid, ReasonDeadlinePassed)
	}
	if bid.Round == 0 {
		bid.Round = st.RFQ.Round
	}
	for _, existing := range st.Bids {
		if existing.BidderNodeID == bid.BidderNodeID && existing.Round == bid.Round {
			a.mu.Unlock()
			return a.reject(bid, ReasonDuplicateBid)
		}
	}
	if a.deps.Guard != nil && !a.deps.Guard.Allow(bid.BidderNodeID) {
		a.mu.Unlock()
		return a.reject(bid, ReasonRateLimited)
	}
	if bid.ReputationBond != nil && bid.ReputationBond.AmountUSD > 0 {
		if a.deps.Escrow == nil {
			a.mu.Unlock()
			return a.reject(bid, ReasonBondUnavailable)
		}
		// Held under the auction lock so a concurrent duplicate cannot slip in.
		if _, err := a.deps.Escrow.HoldBond(ctx, bid.RFQID, bid.BidderNodeID, bid.ReputationBond.AmountUSD); err != nil {
			a.mu.Unlock()
			a.logger.Info("bond hold failed", zap.String("bidder", bid.BidderNodeID), zap.Error(err))
			return a.reject(bid, ReasonBondFailed)
		}
		st.bonded[bid.BidderNodeID] = true
	}
	if bid.BidID == "" {
		bid.BidID = uuid.NewString()
	}
	if bid.Timestamp.IsZero() {
		bid.Timestamp = a.now()
	}
	st.Bids = append(st.Bids, bid)
	select {
	case st.notify <- struct{}{}:
	default:
	}
	a.mu.Unlock()

	a.emit(events.KindBidReceived, events.Fields{
		"rfq_id":   bid.RFQID,
		"bidder":   bid.BidderNodeID,
		"accepted": true,
		"cost_usd": bid.EstimatedCostUSD,
	})
	return BidResult{Accepted: true}
}

func (a *Auction) reject(bid types.BidObject, reason string) BidResult {
	a.emit(events.KindBidReceived, events.Fields{
		"rfq_id":   bid.RFQID,
		"bidder":   bid.BidderNodeID,
		"accepted": false,
		"reason":   reason,
	})
	return BidResult{Accepted: false, Reason: reason}
}

// AwaitBids blocks until every recipient has bid, maxWait elapses, the bid
// deadline passes or ctx is done. It returns the number of bids received.
func (a *Auction) AwaitBids(ctx context.Context, rfqID string, maxWait time.Duration) (int, error) {
	a.mu.Lock()
	st, ok := a.auctions[rfqID]
	if !ok {
		a.mu.Unlock()
		return 0, fmt.Errorf("%w: %s", ErrAuctionNotFound, rfqID)
	}
	wait := st.RFQ.Deadline().Sub(a.now())
	notify := st.notify
	a.mu.Unlock()

	if maxWait > 0 && maxWait < wait {
		wait = maxWait
	}
	timer := time.NewTimer(max(wait, 0))
	defer timer.Stop()

	for {
		a.mu.Lock()
		count, recipients := len(st.Bids), st.Recipients
		a.mu.Unlock()
		if recipients > 0 && count >= recipients {
			return count, nil
		}
		select {
		case <-notify:
		case <-timer.C:
			a.mu.Lock()
			count = len(st.Bids)
			a.mu.Unlock()
			return count, nil
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
}

// ScoreBid is the weighted sum of trust, latency, cost and capability
// overlap, using the RFQ's weights when present.
func (a *Auction) ScoreBid(bid types.BidObject, rfq types.TaskRFQ) float64 {
	w := a.config.DefaultWeights
	if rfq.ScoringWeights != nil {
		w = *rfq.ScoringWeights
	}

	maxCost := a.config.DefaultMaxCostUSD
	maxDuration := a.config.DefaultMaxDurationMs
	if rfq.Constraints != nil {
		if rfq.Constraints.MaxCostUSD > 0 {
			maxCost = rfq.Constraints.MaxCostUSD
		}
		if rfq.Constraints.MaxDurationMs > 0 {
			maxDuration = rfq.Constraints.MaxDurationMs
		}
	}

	trust := 0.5
	if a.deps.Trust != nil {
		trust = a.deps.Trust.GetTrustScore(bid.BidderNodeID)
	}
	latency := 1.0
	if maxDuration > 0 {
		latency = 1 - clamp01(float64(bid.EstimatedDurationMs)/float64(maxDuration))
	}
	cost := 1.0
	if maxCost > 0 {
		cost = 1 - clamp01(bid.EstimatedCostUSD/maxCost)
	}
	capability := types.CapabilityOverlap(rfq.RequiredCapabilities, bid.Capabilities)

	return w.Trust*trust + w.Latency*latency + w.Cost*cost + w.Capability*capability
}

// AwardAuction picks the highest scoring bid. It never fails: unknown
// auctions, too few bids and all-zero scores yield Awarded=false.
func (a *Auction) AwardAuction(ctx context.Context, rfqID string) AwardResult {
	ctx, span := tracer.Start(ctx, "auction.award")
	defer span.End()
	span.SetAttributes(attribute.String("rfq_id", rfqID))

	a.mu.Lock()
	st, ok := a.auctions[rfqID]
	if !ok {
		a.mu.Unlock()
		return AwardResult{Reason: ReasonUnknownAuction}
	}
	if st.Status != StatusCollecting && st.Status != StatusOpen {
		status := st.Status
		a.mu.Unlock()
		return AwardResult{Reason: fmt.Sprintf("auction is %s", status)}
	}
	st.Status = StatusEvaluating
	bids := append([]types.BidObject(nil), st.Bids...)
	rfq := st.RFQ
	a.mu.Unlock()

	minBids := a.config.MinBidsToAward
	if minBids < 1 {
		minBids = 1
	}
	if len(bids) < minBids {
		a.expire(ctx, st, "")
		return a.awardFailed(rfqID, fmt.Sprintf("insufficient bids: %d < %d", len(bids), minBids))
	}

	type scored struct {
		bid   types.BidObject
		score float64
		order int
	}
	ranked := make([]scored, 0, len(bids))
	for i, b := range bids {
		ranked = append(ranked, scored{bid: b, score: a.ScoreBid(b, rfq), order: i})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].order < ranked[j].order
	})
	best := ranked[0]
	if best.score <= 0 {
		a.expire(ctx, st, "")
		return a.awardFailed(rfqID, "no bid scored positively")
	}

	winner := best.bid
	a.mu.Lock()
	st.Status = StatusAwarded
	st.WinningBid = &winner
	st.SettledAt = a.now()
	a.mu.Unlock()

	a.releaseBonds(ctx, st, winner.BidderNodeID)

	a.emit(events.KindAuctionAwarded, events.Fields{
		"rfq_id":   rfqID,
		"awarded":  true,
		"winner":   winner.BidderNodeID,
		"score":    best.score,
		"bids":     len(bids),
		"cost_usd": winner.EstimatedCostUSD,
	})
	a.logger.Info("auction awarded",
		zap.String("rfq_id", rfqID),
		zap.String("winner", winner.BidderNodeID),
		zap.Float64("score", best.score),
	)
	return AwardResult{Awarded: true, WinningBid: &winner, Score: best.score}
}

func (a *Auction) awardFailed(rfqID, reason string) AwardResult {
	a.emit(events.KindAuctionAwarded, events.Fields{
		"rfq_id":  rfqID,
		"awarded": false,
		"reason":  reason,
	})
	a.logger.Info("auction not awarded", zap.String("rfq_id", rfqID), zap.String("reason", reason))
	return AwardResult{Reason: reason}
}

func (a *Auction) expire(ctx context.Context, st *auctionState, keep string) {
	a.mu.Lock()
	st.Status = StatusExpired
	st.SettledAt = a.now()
	a.mu.Unlock()
	a.releaseBonds(ctx, st, keep)
}

// releaseBonds releases every held bond except keep's.
func (a *Auction) releaseBonds(ctx context.Context, st *auctionState, keep string) {
	if a.deps.Escrow == nil {
		return
	}
	a.mu.Lock()
	var bidders []string
	for bidder := range st.bonded {
		if bidder != keep {
			bidders = append(bidders, bidder)
			delete(st.bonded, bidder)
		}
	}
	rfqID := st.RFQ.RFQID
	a.mu.Unlock()

	for _, bidder := range bidders {
		if _, err := a.deps.Escrow.ReleaseBond(ctx, rfqID, bidder); err != nil {
			a.logger.Warn("failed to release bidder bond",
				zap.String("rfq_id", rfqID),
				zap.String("bidder", bidder),
				zap.Error(err),
			)
		}
	}
}

// CancelAuction cancels a non-terminal auction and releases every bond.
func (a *Auction) CancelAuction(ctx context.Context, rfqID string) bool {
	a.mu.Lock()
	st, ok := a.auctions[rfqID]
	if !ok || st.Status.Terminal() {
		a.mu.Unlock()
		return false
	}
	st.Status = StatusCancelled
	st.SettledAt = a.now()
	a.mu.Unlock()

	a.releaseBonds(ctx, st, "")
	return true
}

// Get returns a snapshot of an auction.
func (a *Auction) Get(rfqID string) (Record, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	st, ok := a.auctions[rfqID]
	if !ok {
		return Record{}, false
	}
	return st.snapshot(), true
}

// Len returns the number of tracked auctions.
func (a *Auction) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.auctions)
}

// Cleanup purges auctions that reached a terminal status more than the
// retention period ago.
func (a *Auction) Cleanup() int {
	retention := a.config.Retention
	if retention <= 0 {
		retention = time.Hour
	}
	cutoff := a.now().Add(-retention)

	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for id, st := range a.auctions {
		if st.Status.Terminal() && st.SettledAt.Before(cutoff) {
			delete(a.auctions, id)
			n++
		}
	}
	return n
}

// Start runs Cleanup periodically until ctx is done.
func (a *Auction) Start(ctx context.Context) {
	interval := a.config.CleanupInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := a.Cleanup(); n > 0 {
				a.logger.Debug("purged auctions", zap.Int("count", n))
			}
			if a.deps.Guard != nil {
				a.deps.Guard.Sweep()
			}
		}
	}
}

func (s *auctionState) snapshot() Record {
	r := s.Record
	r.Bids = append([]types.BidObject(nil), s.Bids...)
	if s.WinningBid != nil {
		w := *s.WinningBid
		r.WinningBid = &w
	}
	return r
}

func (a *Auction) emit(kind events.Kind, fields events.Fields) {
	if err := events.Emit(a.deps.Emitter, kind, fields); err != nil {
		a.logger.Debug("emit failed", zap.Error(err))
	}
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
