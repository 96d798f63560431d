package rootcause

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"pgregory.net/rapid"

	"github.com/BaSui01/agentswarm/swarm/events"
	"github.com/BaSui01/agentswarm/swarm/mesh"
	"github.com/BaSui01/agentswarm/swarm/reputation"
	"github.com/BaSui01/agentswarm/types"
)

type peerMap map[string]types.PeerEntry

func (m peerMap) GetPeer(id string) (types.PeerEntry, bool) {
	p, ok := m[id]
	return p, ok
}

type historyMap map[string]reputation.PeerReputation

func (m historyMap) GetReputation(id string) (reputation.PeerReputation, bool) {
	r, ok := m[id]
	return r, ok
}

func anomalies(kinds ...types.AnomalyType) []types.AnomalyReport {
	out := make([]types.AnomalyReport, 0, len(kinds))
	for _, k := range kinds {
		out = append(out, types.AnomalyReport{Type: k, Severity: types.SeverityMedium})
	}
	return out
}

func newTestAnalyzer(t *testing.T, peers peerMap, history historyMap, emitter events.Emitter) *Analyzer {
	t.Helper()
	return NewAnalyzer(DefaultConfig(), peers, history, emitter, zaptest.NewLogger(t))
}

func TestDiagnose_Ladder(t *testing.T) {
	peers := peerMap{
		"partitioned": {Identity: types.PeerIdentity{NodeID: "partitioned"}, Status: types.PeerStatusSuspected},
		"busy":        {Identity: types.PeerIdentity{NodeID: "busy"}, Status: types.PeerStatusActive, LastLatencyMs: 3000},
		"calm":        {Identity: types.PeerIdentity{NodeID: "calm"}, Status: types.PeerStatusActive, LastLatencyMs: 1500},
		"fresh":       {Identity: types.PeerIdentity{NodeID: "fresh"}, Status: types.PeerStatusActive, LastLatencyMs: 9000},
	}
	history := historyMap{
		"busy": {NodeID: "busy", AvgLatencyMs: 1000, TasksCompleted: 4},
		"calm": {NodeID: "calm", AvgLatencyMs: 1000, TasksCompleted: 4},
	}
	high := &types.TaskAttributes{Complexity: types.LevelHigh}

	tests := []struct {
		name       string
		in         Input
		cause      Cause
		confidence float64
		response   Response
	}{
		{
			name:       "two integrity anomalies are malicious",
			in:         Input{PeerNodeID: "calm", Anomalies: anomalies(types.AnomalySuspiciousFindings, types.AnomalyDataAccessViolation)},
			cause:      CauseMaliciousBehavior,
			confidence: 0.9,
			response:   ResponseQuarantineAndRedelegate,
		},
		{
			name:       "malicious outranks partition",
			in:         Input{PeerNodeID: "partitioned", CheckpointMisses: 5, Anomalies: anomalies(types.AnomalySuspiciousFindings, types.AnomalySuspiciousFindings)},
			cause:      CauseMaliciousBehavior,
			confidence: 0.9,
			response:   ResponseQuarantineAndRedelegate,
		},
		{
			name:       "suspected peer with missed checkpoints is partitioned",
			in:         Input{PeerNodeID: "partitioned", CheckpointMisses: 3},
			cause:      CauseNetworkPartition,
			confidence: 0.7,
			response:   ResponseWaitAndRetry,
		},
		{
			name:       "latency spike is overload",
			in:         Input{PeerNodeID: "busy", FailureCount: 1},
			cause:      CausePeerOverload,
			confidence: 0.7,
			response:   ResponseRedelegate,
		},
		{
			name:       "overload with duration spike raises confidence",
			in:         Input{PeerNodeID: "busy", Anomalies: anomalies(types.AnomalyDurationSpike)},
			cause:      CausePeerOverload,
			confidence: 0.8,
			response:   ResponseRedelegate,
		},
		{
			name:       "overload needs a history record",
			in:         Input{PeerNodeID: "fresh", FailureCount: 1},
			cause:      CauseTransientFailure,
			confidence: 0.5,
			response:   ResponseRedelegate,
		},
		{
			name:       "repeated failure on complex task",
			in:         Input{PeerNodeID: "calm", FailureCount: 2, TaskAttributes: high},
			cause:      CauseTaskComplexityMismatch,
			confidence: 0.7,
			response:   ResponseDecomposeAndRedelegate,
		},
		{
			name:       "cost spike is resource exhaustion",
			in:         Input{PeerNodeID: "calm", FailureCount: 1, Anomalies: anomalies(types.AnomalyCostSpike)},
			cause:      CauseResourceExhaustion,
			confidence: 0.7,
			response:   ResponseEscalateToHuman,
		},
		{
			name:       "single clean failure is transient",
			in:         Input{PeerNodeID: "calm", FailureCount: 1},
			cause:      CauseTransientFailure,
			confidence: 0.5,
			response:   ResponseRedelegate,
		},
		{
			name:       "fallback is unknown",
			in:         Input{PeerNodeID: "calm", FailureCount: 3, Anomalies: anomalies(types.AnomalyTokenSpike)},
			cause:      CauseUnknown,
			confidence: 0.3,
			response:   ResponseEscalateToHuman,
		},
	}

	a := newTestAnalyzer(t, peers, history, nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := a.Diagnose(tt.in)
			assert.Equal(t, tt.cause, d.RootCause)
			assert.InDelta(t, tt.confidence, d.Confidence, 1e-9)
			assert.Equal(t, tt.response, d.RecommendedResponse)
			assert.NotEmpty(t, d.Evidence)
			assert.NotEmpty(t, d.ID)
			assert.False(t, d.Timestamp.IsZero())
		})
	}
}

func TestDiagnose_OverloadThreshold(t *testing.T) {
	history := historyMap{"p": {NodeID: "p", AvgLatencyMs: 1000, TasksCompleted: 1}}

	for _, tc := range []struct {
		latency int64
		want    Cause
	}{
		{latency: 2999, want: CauseTransientFailure},
		{latency: 3000, want: CausePeerOverload},
		{latency: 4500, want: CausePeerOverload},
	} {
		peers := peerMap{"p": {Identity: types.PeerIdentity{NodeID: "p"}, Status: types.PeerStatusActive, LastLatencyMs: tc.latency}}
		d := newTestAnalyzer(t, peers, history, nil).Diagnose(Input{PeerNodeID: "p", FailureCount: 1})
		assert.Equal(t, tc.want, d.RootCause, "latency %d", tc.latency)
	}
}

func TestDiagnose_OverloadFromObservedLatency(t *testing.T) {
	logger := zaptest.NewLogger(t)
	dir := mesh.NewDirectory("self", mesh.DefaultDirectoryConfig(), logger)
	ledger := reputation.NewLedger(logger)
	dir.OnLatency(ledger.RecordLatency)

	require.True(t, dir.Heartbeat(mesh.Heartbeat{Identity: types.PeerIdentity{NodeID: "p", APIURL: "http://p"}}))
	// minute-long tasks say nothing about how fast the peer answers
	ledger.RecordOutcome(context.Background(), "p", &types.SwarmTaskResult{
		TaskID: "t0", Status: types.TaskStatusCompleted, DurationMs: 60000,
	})
	for i := 0; i < 5; i++ {
		dir.RecordSuccess("p", 50*time.Millisecond)
	}

	a := NewAnalyzer(DefaultConfig(), dir, ledger, nil, logger)
	d := a.Diagnose(Input{PeerNodeID: "p", FailureCount: 1})
	assert.Equal(t, CauseTransientFailure, d.RootCause)

	dir.RecordSuccess("p", 200*time.Millisecond)
	rep, ok := ledger.GetReputation("p")
	require.True(t, ok)
	assert.InDelta(t, 50, rep.AvgLatencyMs, 1e-9)
	assert.InDelta(t, 60000, rep.AvgDurationMs(), 1e-9)

	d = a.Diagnose(Input{PeerNodeID: "p", FailureCount: 1})
	assert.Equal(t, CausePeerOverload, d.RootCause)
	assert.Contains(t, d.Evidence[0], "200ms")
}

func TestDiagnose_EmitsEvent(t *testing.T) {
	bus := events.NewBus(nil)
	var got []events.Event
	require.NoError(t, bus.Subscribe(events.KindRootCauseDiagnosed, func(e events.Event) { got = append(got, e) }))

	a := newTestAnalyzer(t, nil, nil, bus)
	d := a.Diagnose(Input{TaskID: "t1", PeerNodeID: "p1", FailureCount: 1})

	require.Len(t, got, 1)
	assert.Equal(t, "t1", got[0].Fields["task_id"])
	assert.Equal(t, string(d.RootCause), got[0].Fields["root_cause"])
}

func TestSelectResponse(t *testing.T) {
	malicious := Diagnosis{RootCause: CauseMaliciousBehavior, RecommendedResponse: ResponseQuarantineAndRedelegate}
	transient := Diagnosis{RootCause: CauseTransientFailure, RecommendedResponse: ResponseRedelegate}

	tests := []struct {
		name  string
		d     Diagnosis
		attrs *types.TaskAttributes
		want  Response
	}{
		{"no attributes keeps recommendation", transient, nil, ResponseRedelegate},
		{"irreversible malicious aborts", malicious, &types.TaskAttributes{Reversibility: types.LevelLow}, ResponseAbortTask},
		{"irreversible escalates", transient, &types.TaskAttributes{Reversibility: types.LevelLow}, ResponseEscalateToHuman},
		{"reversibility checked before criticality", malicious, &types.TaskAttributes{Reversibility: types.LevelLow, Criticality: types.LevelHigh}, ResponseAbortTask},
		{"critical and partly reversible escalates", transient, &types.TaskAttributes{Reversibility: types.LevelMedium, Criticality: types.LevelHigh}, ResponseEscalateToHuman},
		{"critical but reversible keeps recommendation", transient, &types.TaskAttributes{Reversibility: types.LevelHigh, Criticality: types.LevelHigh}, ResponseRedelegate},
		{"ordinary task keeps recommendation", malicious, &types.TaskAttributes{Reversibility: types.LevelMedium, Criticality: types.LevelLow}, ResponseQuarantineAndRedelegate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SelectResponse(tt.d, tt.attrs))
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
	assert.Error(t, Config{CheckpointMissThreshold: 0, OverloadLatencyRatio: 3}.Validate())
	assert.Error(t, Config{CheckpointMissThreshold: 3, OverloadLatencyRatio: 1}.Validate())
}

func TestProperty_Diagnose_AlwaysReturnsKnownCause(t *testing.T) {
	known := map[Cause]bool{
		CauseMaliciousBehavior: true, CauseNetworkPartition: true, CausePeerOverload: true,
		CauseTaskComplexityMismatch: true, CauseResourceExhaustion: true,
		CauseTransientFailure: true, CauseUnknown: true,
	}
	kinds := []types.AnomalyType{
		types.AnomalySuspiciousFindings, types.AnomalyDataAccessViolation, types.AnomalyDurationSpike,
		types.AnomalyCostSpike, types.AnomalyTokenSpike, types.AnomalyCheckpointMissed,
	}
	statuses := []types.PeerStatus{types.PeerStatusActive, types.PeerStatusSuspected, types.PeerStatusUnreachable}

	rapid.Check(t, func(rt *rapid.T) {
		peers := peerMap{"p": {
			Identity:      types.PeerIdentity{NodeID: "p"},
			Status:        rapid.SampledFrom(statuses).Draw(rt, "status"),
			LastLatencyMs: rapid.Int64Range(0, 20000).Draw(rt, "latency"),
		}}
		history := historyMap{"p": {NodeID: "p", AvgLatencyMs: rapid.Float64Range(0, 5000).Draw(rt, "avg")}}
		picked := rapid.SliceOfN(rapid.SampledFrom(kinds), 0, 5).Draw(rt, "anomalies")

		in := Input{
			PeerNodeID:       "p",
			CheckpointMisses: rapid.IntRange(0, 6).Draw(rt, "misses"),
			FailureCount:     rapid.IntRange(0, 4).Draw(rt, "failures"),
			Anomalies:        anomalies(picked...),
		}
		d := NewAnalyzer(DefaultConfig(), peers, history, nil, nil).Diagnose(in)
		if !known[d.RootCause] {
			rt.Fatalf("unexpected cause %q", d.RootCause)
		}
		if d.Confidence <= 0 || d.Confidence > 1 {
			rt.Fatalf("confidence out of range: %v", d.Confidence)
		}

		integrity := 0
		for _, k := range picked {
			if k == types.AnomalySuspiciousFindings || k == types.AnomalyDataAccessViolation {
				integrity++
			}
		}
		if integrity >= 2 && d.RootCause != CauseMaliciousBehavior {
			rt.Fatalf("expected malicious_behavior with %d integrity anomalies, got %s", integrity, d.RootCause)
		}
	})
}
