package auction

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/agentswarm/swarm/escrow"
	"github.com/BaSui01/agentswarm/swarm/events"
	"github.com/BaSui01/agentswarm/types"
)

type fakePeers struct {
	self  types.PeerIdentity
	peers []types.PeerEntry
}

func (f *fakePeers) GetActivePeers() []types.PeerEntry { return f.peers }
func (f *fakePeers) GetIdentity() types.PeerIdentity { return f.self }

type fakeSender struct {
	mu     sync.Mutex
	sent   []string
	fail   map[string]bool
	onSend func(addr string, rfq types.TaskRFQ)
}

func (f *fakeSender) SendRFQ(_ context.Context, addr string, rfq types.TaskRFQ) error {
	f.mu.Lock()
	if f.fail[addr] {
		f.mu.Unlock()
		return errors.New("connection refused")
	}
	f.sent = append(f.sent, addr)
	hook := f.onSend
	f.mu.Unlock()
	if hook != nil {
		hook(addr, rfq)
	}
	return nil
}

type fixedTrust map[string]float64

func (f fixedTrust) GetTrustScore(id string) float64 {
	if v, ok := f[id]; ok {
		return v
	}
	return 0.5
}

func entry(id string) types.PeerEntry {
	return types.PeerEntry{
		Identity: types.PeerIdentity{NodeID: id, APIURL: "http://" + id},
		Status:   types.PeerStatusActive,
	}
}

type harness struct {
	auction *Auction
	sender  *fakeSender
	escrow  *escrow.MemoryLedger
	clock   time.Time
	events  []events.Event
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{
		sender: &fakeSender{fail: map[string]bool{}},
		escrow: escrow.NewMemoryLedger(10),
		clock:  time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC),
	}
	bus := events.NewBus(nil)
	bus.SubscribeAll(func(e events.Event) { h.events = append(h.events, e) })

	peers := &fakePeers{
		self:  types.PeerIdentity{NodeID: "self", APIURL: "http://self"},
		peers: []types.PeerEntry{entry("self"), entry("a"), entry("b"), entry("c")},
	}
	h.auction = New(cfg, Dependencies{
		Peers:   peers,
		Sender:  h.sender,
		Trust:   fixedTrust{"a": 0.9, "b": 0.2},
		Escrow:  h.escrow,
		Guard:   NewGuard(DefaultGuardConfig()),
		Emitter: bus,
	}, zaptest.NewLogger(t))
	h.auction.now = func() time.Time { return h.clock }
	return h
}

func (h *harness) kinds() []events.Kind {
	out := make([]events.Kind, 0, len(h.events))
	for _, e := range h.events {
		out = append(out, e.Kind)
	}
	return out
}

func bid(rfqID, bidder string, cost float64, durationMs int64) types.BidObject {
	return types.BidObject{
		RFQID:               rfqID,
		BidderNodeID:        bidder,
		EstimatedCostUSD:    cost,
		EstimatedDurationMs: durationMs,
		Capabilities:        []string{"shell"},
	}
}

func TestCreateAuction_BroadcastsToActivePeers(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.sender.fail["http://c"] = true

	rec, err := h.auction.CreateAuction(context.Background(), "scan", "sess", nil, []string{"shell"})
	require.NoError(t, err)

	assert.Equal(t, StatusCollecting, rec.Status)
	assert.NotEmpty(t, rec.RFQ.RFQID)
	assert.NotEmpty(t, rec.RFQ.Nonce)
	assert.NotEqual(t, rec.RFQ.RFQID, rec.RFQ.Nonce)
	assert.Equal(t, "self", rec.RFQ.OriginatorNodeID)
	assert.Equal(t, 2, rec.Recipients)
	assert.ElementsMatch(t, []string{"http://a", "http://b"}, h.sender.sent)
	assert.Contains(t, h.kinds(), events.KindAuctionCreated)

	other, err := h.auction.CreateAuction(context.Background(), "scan", "sess", nil, nil)
	require.NoError(t, err)
	assert.NotEqual(t, rec.RFQ.Nonce, other.RFQ.Nonce)
}

func TestReceiveBid_DuringBroadcast(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.BroadcastConcurrency = 1
	h := newHarness(t, cfg)
	var (
		mu      sync.Mutex
		results = map[string]BidResult{}
	)
	h.sender.onSend = func(addr string, rfq types.TaskRFQ) {
		bidder := addr[len("http://"):]
		res := h.auction.ReceiveBid(ctx, bid(rfq.RFQID, bidder, 0.1, 100))
		mu.Lock()
		results[bidder] = res
		mu.Unlock()
	}

	rec, err := h.auction.CreateAuction(ctx, "scan", "sess", nil, nil)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, results, 3)
	for bidder, res := range results {
		assert.True(t, res.Accepted, "%s: %s", bidder, res.Reason)
	}
	got, ok := h.auction.Get(rec.RFQ.RFQID)
	require.True(t, ok)
	assert.Len(t, got.Bids, 3)
}

func TestReceiveBid_Rejections(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, DefaultConfig())
	rec, err := h.auction.CreateAuction(ctx, "scan", "sess", nil, nil)
	require.NoError(t, err)
	id := rec.RFQ.RFQID

	assert.Equal(t, ReasonUnknownAuction, h.auction.ReceiveBid(ctx, bid("nope", "a", 0.1, 100)).Reason)
	assert.Equal(t, ReasonInvalidBid, h.auction.ReceiveBid(ctx, bid(id, "", 0.1, 100)).Reason)

	assert.True(t, h.auction.ReceiveBid(ctx, bid(id, "a", 0.1, 100)).Accepted)
	assert.Equal(t, ReasonDuplicateBid, h.auction.ReceiveBid(ctx, bid(id, "a", 0.2, 100)).Reason)

	poor := bid(id, "b", 0.1, 100)
	poor.ReputationBond = &types.ReputationBond{AmountUSD: 50}
	assert.Equal(t, ReasonBondFailed, h.auction.ReceiveBid(ctx, poor).Reason)

	h.clock = h.clock.Add(31 * time.Second)
	assert.Equal(t, ReasonDeadlinePassed, h.auction.ReceiveBid(ctx, bid(id, "c", 0.1, 100)).Reason)
}

func TestReceiveBid_NotCollectingAfterAward(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, DefaultConfig())
	rec, _ := h.auction.CreateAuction(ctx, "scan", "sess", nil, nil)
	require.True(t, h.auction.ReceiveBid(ctx, bid(rec.RFQ.RFQID, "a", 0.1, 100)).Accepted)
	require.True(t, h.auction.AwardAuction(ctx, rec.RFQ.RFQID).Awarded)

	res := h.auction.ReceiveBid(ctx, bid(rec.RFQ.RFQID, "b", 0.1, 100))
	assert.False(t, res.Accepted)
	assert.Equal(t, ReasonNotCollecting, res.Reason)
}

func TestReceiveBid_RateLimited(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, DefaultConfig())
	h.auction.deps.Guard = NewGuard(GuardConfig{BidsPerSecond: 0.001, Burst: 1})
	h.auction.deps.Guard.now = func() time.Time { return h.clock }

	first, _ := h.auction.CreateAuction(ctx, "one", "sess", nil, nil)
	second, _ := h.auction.CreateAuction(ctx, "two", "sess", nil, nil)

	assert.True(t, h.auction.ReceiveBid(ctx, bid(first.RFQ.RFQID, "a", 0.1, 100)).Accepted)
	assert.Equal(t, ReasonRateLimited, h.auction.ReceiveBid(ctx, bid(second.RFQ.RFQID, "a", 0.1, 100)).Reason)
}

func TestReceiveBid_BondRequiresEscrow(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, DefaultConfig())
	h.auction.deps.Escrow = nil
	rec, _ := h.auction.CreateAuction(ctx, "scan", "sess", nil, nil)

	b := bid(rec.RFQ.RFQID, "a", 0.1, 100)
	b.ReputationBond = &types.ReputationBond{AmountUSD: 1}
	assert.Equal(t, ReasonBondUnavailable, h.auction.ReceiveBid(ctx, b).Reason)
}

func TestScoreBid(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	rfq := types.TaskRFQ{
		Constraints:          &types.TaskConstraints{MaxCostUSD: 2, MaxDurationMs: 1000},
		RequiredCapabilities: []string{"shell", "browser"},
		ScoringWeights:       &types.ScoringWeights{Trust: 0.25, Latency: 0.25, Cost: 0.25, Capability: 0.25},
	}
	b := bid("r", "a", 1, 500)
	// trust 0.9, latency 0.5, cost 0.5, capability 0.5
	assert.InDelta(t, 0.6, h.auction.ScoreBid(b, rfq), 1e-9)

	rfq.ScoringWeights = nil
	w := DefaultConfig().DefaultWeights
	want := w.Trust*0.9 + w.Latency*0.5 + w.Cost*0.5 + w.Capability*0.5
	assert.InDelta(t, want, h.auction.ScoreBid(b, rfq), 1e-9)
}

func TestAwardAuction_PicksBestAndReleasesLosers(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, DefaultConfig())
	rec, _ := h.auction.CreateAuction(ctx, "scan", "sess", nil, []string{"shell"})
	id := rec.RFQ.RFQID

	for _, bidder := range []string{"a", "b"} {
		b := bid(id, bidder, 0.2, 1000)
		b.ReputationBond = &types.ReputationBond{AmountUSD: 2}
		require.True(t, h.auction.ReceiveBid(ctx, b).Accepted)
	}

	res := h.auction.AwardAuction(ctx, id)
	require.True(t, res.Awarded)
	assert.Equal(t, "a", res.WinningBid.BidderNodeID)

	loser, ok, err := h.escrow.GetBond(ctx, id, "b")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, escrow.BondReleased, loser.Status)

	winner, _, _ := h.escrow.GetBond(ctx, id, "a")
	assert.Equal(t, escrow.BondHeld, winner.Status)

	got, _ := h.auction.Get(id)
	assert.Equal(t, StatusAwarded, got.Status)
	assert.Contains(t, h.kinds(), events.KindAuctionAwarded)

	again := h.auction.AwardAuction(ctx, id)
	assert.False(t, again.Awarded)
}

func TestAwardAuction_TooFewBids(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.MinBidsToAward = 2
	h := newHarness(t, cfg)
	rec, _ := h.auction.CreateAuction(ctx, "scan", "sess", nil, nil)

	b := bid(rec.RFQ.RFQID, "a", 0.1, 100)
	b.ReputationBond = &types.ReputationBond{AmountUSD: 1}
	require.True(t, h.auction.ReceiveBid(ctx, b).Accepted)

	res := h.auction.AwardAuction(ctx, rec.RFQ.RFQID)
	assert.False(t, res.Awarded)
	assert.Contains(t, res.Reason, "insufficient bids")

	got, _ := h.auction.Get(rec.RFQ.RFQID)
	assert.Equal(t, StatusExpired, got.Status)
	bond, _, _ := h.escrow.GetBond(ctx, rec.RFQ.RFQID, "a")
	assert.Equal(t, escrow.BondReleased, bond.Status)

	assert.False(t, h.auction.AwardAuction(ctx, "unknown").Awarded)
}

func TestAwardAuction_NoPositiveScore(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.DefaultWeights = types.ScoringWeights{Cost: 1}
	h := newHarness(t, cfg)
	rec, _ := h.auction.CreateAuction(ctx, "scan", "sess", nil, nil)
	require.True(t, h.auction.ReceiveBid(ctx, bid(rec.RFQ.RFQID, "a", 5, 100)).Accepted)

	res := h.auction.AwardAuction(ctx, rec.RFQ.RFQID)
	assert.False(t, res.Awarded)
	assert.Equal(t, "no bid scored positively", res.Reason)
}

func TestAwaitBids_ReturnsWhenAllRecipientsBid(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, DefaultConfig())
	h.auction.now = time.Now
	rec, _ := h.auction.CreateAuction(ctx, "scan", "sess", nil, nil)
	id := rec.RFQ.RFQID

	go func() {
		time.Sleep(20 * time.Millisecond)
		for _, bidder := range []string{"a", "b", "c"} {
			h.auction.ReceiveBid(ctx, bid(id, bidder, 0.1, 100))
		}
	}()

	start := time.Now()
	n, err := h.auction.AwaitBids(ctx, id, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Less(t, time.Since(start), 2*time.Second)

	_, err = h.auction.AwaitBids(ctx, "missing", time.Second)
	assert.ErrorIs(t, err, ErrAuctionNotFound)
}

func TestAwaitBids_CapsWait(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.auction.now = time.Now
	rec, _ := h.auction.CreateAuction(context.Background(), "scan", "sess", nil, nil)

	start := time.Now()
	n, err := h.auction.AwaitBids(context.Background(), rec.RFQ.RFQID, 30*time.Millisecond)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Less(t, time.Since(start), time.Second)
}

func TestCancelAndCleanup(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, DefaultConfig())
	rec, _ := h.auction.CreateAuction(ctx, "scan", "sess", nil, nil)
	live, _ := h.auction.CreateAuction(ctx, "scan", "sess", nil, nil)

	b := bid(rec.RFQ.RFQID, "a", 0.1, 100)
	b.ReputationBond = &types.ReputationBond{AmountUSD: 1}
	require.True(t, h.auction.ReceiveBid(ctx, b).Accepted)

	assert.True(t, h.auction.CancelAuction(ctx, rec.RFQ.RFQID))
	assert.False(t, h.auction.CancelAuction(ctx, rec.RFQ.RFQID))
	bond, _, _ := h.escrow.GetBond(ctx, rec.RFQ.RFQID, "a")
	assert.Equal(t, escrow.BondReleased, bond.Status)

	h.clock = h.clock.Add(59 * time.Minute)
	assert.Zero(t, h.auction.Cleanup())

	h.clock = h.clock.Add(2 * time.Minute)
	assert.Equal(t, 1, h.auction.Cleanup())
	_, ok := h.auction.Get(rec.RFQ.RFQID)
	assert.False(t, ok)
	_, ok = h.auction.Get(live.RFQ.RFQID)
	assert.True(t, ok)
}

func TestGuard_Sweep(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	g := NewGuard(GuardConfig{BidsPerSecond: 1, Burst: 1, IdleTTL: time.Minute})
	g.now = func() time.Time { return now }

	assert.True(t, g.Allow("a"))
	assert.False(t, g.Allow("a"))
	now = now.Add(2 * time.Minute)
	assert.Equal(t, 1, g.Sweep())
	assert.True(t, g.Allow("a"))
}
