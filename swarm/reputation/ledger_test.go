package reputation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"pgregory.net/rapid"

	"github.com/BaSui01/agentswarm/swarm/events"
	"github.com/BaSui01/agentswarm/types"
)

func result(status types.TaskStatus, durationMs int64, cost float64) *types.SwarmTaskResult {
	return &types.SwarmTaskResult{
		TaskID:     "task",
		PeerNodeID: "peer",
		Status:     status,
		DurationMs: durationMs,
		CostUSD:    cost,
		TokensUsed: 100,
	}
}

func TestLedger_UnknownPeerIsNeutral(t *testing.T) {
	l := NewLedger(zaptest.NewLogger(t))

	assert.Equal(t, DefaultTrustScore, l.GetTrustScore("nobody"))
	_, ok := l.GetReputation("nobody")
	assert.False(t, ok)
}

func TestLedger_RecordOutcome_Counters(t *testing.T) {
	ctx := context.Background()
	l := NewLedger(zaptest.NewLogger(t))

	l.RecordOutcome(ctx, "p1", result(types.TaskStatusCompleted, 1000, 0.2))
	l.RecordOutcome(ctx, "p1", result(types.TaskStatusCompleted, 3000, 0.4))
	rep := l.RecordOutcome(ctx, "p1", result(types.TaskStatusFailed, 2000, 0.3))

	assert.Equal(t, 2, rep.TasksCompleted)
	assert.Equal(t, 1, rep.TasksFailed)
	assert.Equal(t, 0, rep.ConsecutiveSuccesses)
	assert.Equal(t, 1, rep.ConsecutiveFailures)
	assert.Equal(t, int64(6000), rep.TotalDurationMs)
	assert.Equal(t, int64(300), rep.TotalTokensUsed)
	assert.InDelta(t, 0.9, rep.TotalCostUSD, 1e-9)
	assert.InDelta(t, 2000, rep.AvgDurationMs(), 1e-9)
	assert.Zero(t, rep.AvgLatencyMs, "execution time is not exchange latency")
	assert.InDelta(t, 0.3, rep.AvgCostUSD(), 1e-9)
	assert.False(t, rep.LastOutcomeAt.IsZero())
}

func TestLedger_RecordLatency(t *testing.T) {
	l := NewLedger(zaptest.NewLogger(t))

	l.RecordLatency("p1", 100*time.Millisecond)
	rep, ok := l.GetReputation("p1")
	require.True(t, ok)
	assert.Zero(t, rep.AvgLatencyMs, "one sample has no baseline yet")
	assert.Equal(t, int64(100), rep.LastLatencyMs)
	assert.Equal(t, 0, rep.TotalTasks())
	assert.Equal(t, DefaultTrustScore, l.GetTrustScore("p1"))

	l.RecordLatency("p1", 200*time.Millisecond)
	rep, _ = l.GetReputation("p1")
	assert.InDelta(t, 100, rep.AvgLatencyMs, 1e-9)

	l.RecordLatency("p1", 900*time.Millisecond)
	rep, _ = l.GetReputation("p1")
	// 100 + 0.2*(200-100); the 900ms spike is not yet in the baseline
	assert.InDelta(t, 120, rep.AvgLatencyMs, 1e-9)
	assert.Equal(t, int64(900), rep.LastLatencyMs)
	assert.Equal(t, int64(3), rep.LatencySamples)

	l.RecordLatency("", time.Second)
	l.RecordLatency("p2", -time.Second)
	_, ok = l.GetReputation("p2")
	assert.False(t, ok)
}

func TestLedger_SuccessRaisesFailureLowers(t *testing.T) {
	ctx := context.Background()
	l := NewLedger(nil)

	good := l.RecordOutcome(ctx, "good", result(types.TaskStatusCompleted, 10, 0)).TrustScore
	bad := l.RecordOutcome(ctx, "bad", result(types.TaskStatusFailed, 10, 0)).TrustScore
	aborted := l.RecordOutcome(ctx, "aborted", result(types.TaskStatusAborted, 10, 0)).TrustScore

	assert.Greater(t, good, DefaultTrustScore)
	assert.Less(t, bad, DefaultTrustScore)
	assert.Less(t, aborted, DefaultTrustScore)
}

func TestLedger_NilResultIsIgnored(t *testing.T) {
	l := NewLedger(nil)
	l.RecordOutcome(context.Background(), "p", nil)
	_, ok := l.GetReputation("p")
	assert.False(t, ok)
}

func TestLedger_EmitsReputationUpdated(t *testing.T) {
	bus := events.NewBus(nil)
	var got []events.Event
	require.NoError(t, bus.Subscribe(events.KindReputationUpdated, func(e events.Event) { got = append(got, e) }))

	l := NewLedger(nil, WithEmitter(bus))
	l.RecordOutcome(context.Background(), "p1", result(types.TaskStatusCompleted, 5, 0))

	require.Len(t, got, 1)
	assert.Equal(t, "p1", got[0].Fields["node_id"])
	assert.Equal(t, DefaultTrustScore, got[0].Fields["previous_score"])
}

type failingStore struct{ saves int }

func (f *failingStore) LoadAll(context.Context) ([]PeerReputation, error) {
	return nil, errors.New("down")
}

func (f *failingStore) Save(context.Context, PeerReputation) error {
	f.saves++
	return errors.New("down")
}

func TestLedger_StoreFailureDoesNotBreakLedger(t *testing.T) {
	store := &failingStore{}
	l := NewLedger(zaptest.NewLogger(t), WithStore(store))

	rep := l.RecordOutcome(context.Background(), "p1", result(types.TaskStatusCompleted, 5, 0))
	assert.Equal(t, 1, rep.TasksCompleted)
	assert.Equal(t, 1, store.saves)

	_, err := l.Load(context.Background())
	assert.Error(t, err)
}

func TestLedger_ConcurrentRecording(t *testing.T) {
	l := NewLedger(nil)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.RecordOutcome(context.Background(), "p", result(types.TaskStatusCompleted, 1, 0))
		}()
	}
	wg.Wait()
	rep, ok := l.GetReputation("p")
	require.True(t, ok)
	assert.Equal(t, 50, rep.TasksCompleted)
}

func TestProperty_Ledger_TrustBounded(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		l := NewLedger(nil)
		statuses := rapid.SliceOf(rapid.SampledFrom([]types.TaskStatus{
			types.TaskStatusCompleted, types.TaskStatusFailed, types.TaskStatusAborted,
		})).Draw(rt, "statuses")

		for _, s := range statuses {
			score := l.RecordOutcome(context.Background(), "p", result(s, 10, 0.1)).TrustScore
			if score < 0 || score > 1 {
				rt.Fatalf("score %v out of range", score)
			}
		}
	})
}

// A further success never lowers the score and a further failure never raises it.
func TestProperty_Ledger_TrustMonotonic(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		history := rapid.SliceOf(rapid.Bool()).Draw(rt, "history")
		next := rapid.Bool().Draw(rt, "next")

		l := NewLedger(nil)
		for _, ok := range history {
			s := types.TaskStatusFailed
			if ok {
				s = types.TaskStatusCompleted
			}
			l.RecordOutcome(context.Background(), "p", result(s, 10, 0))
		}
		before := l.GetTrustScore("p")

		s := types.TaskStatusFailed
		if next {
			s = types.TaskStatusCompleted
		}
		after := l.RecordOutcome(context.Background(), "p", result(s, 10, 0)).TrustScore

		if next && after < before {
			rt.Fatalf("success lowered trust: %v -> %v", before, after)
		}
		if !next && after > before {
			rt.Fatalf("failure raised trust: %v -> %v", before, after)
		}
	})
}
