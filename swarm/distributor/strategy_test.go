package distributor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/BaSui01/agentswarm/swarm/events"
	"github.com/BaSui01/agentswarm/types"
)

func ids(peers []types.PeerEntry) []string {
	out := make([]string, len(peers))
	for i, p := range peers {
		out[i] = p.NodeID()
	}
	return out
}

func TestRank_CapabilityFilter(t *testing.T) {
	h := newHarness(t, testConfig(),
		peer("a", 10, "shell"),
		peer("b", 10, "browser"),
		peer("c", 10),
	)
	req := DistributeRequest{Constraints: &types.TaskConstraints{ToolAllowlist: []string{"shell", "git"}}}

	for _, s := range []Strategy{StrategyCapabilityMatch, StrategyReputation, StrategyMultiObjective, StrategyPareto} {
		assert.Equal(t, []string{"a"}, ids(h.d.rank(req, s, nil)), string(s))
	}
	assert.ElementsMatch(t, []string{"a", "b", "c"}, ids(h.d.rank(req, StrategyRoundRobin, nil)))
}

func TestRank_CapabilityMatchPrefersOverlap(t *testing.T) {
	h := newHarness(t, testConfig(),
		peer("a", 10, "shell"),
		peer("b", 10, "shell", "git"),
	)
	req := DistributeRequest{Constraints: &types.TaskConstraints{ToolAllowlist: []string{"shell", "git"}}}
	assert.Equal(t, []string{"b", "a"}, ids(h.d.rank(req, StrategyCapabilityMatch, nil)))
}

func TestRank_ReputationOrdersByTrustThenLatency(t *testing.T) {
	h := newHarness(t, testConfig(), peer("a", 50), peer("b", 10), peer("c", 30))
	for i := 0; i < 3; i++ {
		h.rep.RecordOutcome(context.Background(), "c", completed("t"))
	}

	assert.Equal(t, []string{"c", "b", "a"}, ids(h.d.rank(DistributeRequest{}, StrategyReputation, nil)))
}

func TestRank_SkipsSelfExcludedAndQuarantined(t *testing.T) {
	h := newHarness(t, testConfig(), peer("self", 1), peer("a", 10), peer("b", 20), peer("c", 30))
	clock := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	h.d.now = func() time.Time { return clock }

	h.d.Quarantine("a")
	assert.True(t, h.d.IsQuarantined("a"))
	assert.Equal(t, []string{"a"}, h.d.Quarantined())

	got := ids(h.d.rank(DistributeRequest{}, StrategyReputation, map[string]bool{"c": true}))
	assert.Equal(t, []string{"b"}, got)

	clock = clock.Add(h.d.config.QuarantineDuration)
	assert.False(t, h.d.IsQuarantined("a"))
	assert.Empty(t, h.d.Quarantined())

	h.d.Quarantine("b")
	assert.True(t, h.d.Release("b"))
	assert.False(t, h.d.Release("b"))
}

func TestRank_ParetoPutsFrontFirst(t *testing.T) {
	h := newHarness(t, testConfig(), peer("slow", 5000), peer("fast", 100), peer("mid", 2000))
	for i := 0; i < 3; i++ {
		h.rep.RecordOutcome(context.Background(), "slow", completed("t"))
	}

	// slow has the best trust, fast the best latency: both are on the front.
	got := ids(h.d.rank(DistributeRequest{}, StrategyPareto, nil))
	require.Len(t, got, 3)
	assert.ElementsMatch(t, []string{"slow", "fast"}, got[:2])
	assert.Equal(t, "mid", got[2])

	sel := h.eventsOf(events.KindParetoSelectionCompleted)
	require.NotEmpty(t, sel)
	assert.Equal(t, 2, sel[len(sel)-1].Fields["front_size"])
}

func TestRank_MultiObjectiveSortsByComposite(t *testing.T) {
	h := newHarness(t, testConfig(), peer("a", 9000), peer("b", 100), peer("c", 5000))
	assert.Equal(t, []string{"b", "c", "a"}, ids(h.d.rank(DistributeRequest{}, StrategyMultiObjective, nil)))
}

func TestProperty_RoundRobinCyclesBeforeRepeating(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(1, 8).Draw(rt, "peers")
		skip := rapid.IntRange(0, 20).Draw(rt, "skip")

		peers := make([]types.PeerEntry, n)
		for i := range peers {
			peers[i] = peer(string(rune('a'+i)), 10)
		}
		h := newHarness(t, testConfig(), peers...)
		for i := 0; i < skip; i++ {
			h.d.rank(DistributeRequest{}, StrategyRoundRobin, nil)
		}

		seen := map[string]bool{}
		for i := 0; i < n; i++ {
			first := h.d.rank(DistributeRequest{}, StrategyRoundRobin, nil)[0].NodeID()
			if seen[first] {
				rt.Fatalf("peer %s repeated after %d calls", first, i)
			}
			seen[first] = true
		}
	})
}
