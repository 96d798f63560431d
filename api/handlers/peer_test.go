package handlers

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/agentswarm/swarm/auction"
	"github.com/BaSui01/agentswarm/swarm/distributor"
	"github.com/BaSui01/agentswarm/swarm/inbox"
	"github.com/BaSui01/agentswarm/swarm/mesh"
	"github.com/BaSui01/agentswarm/testutil"
	"github.com/BaSui01/agentswarm/testutil/fixtures"
	"github.com/BaSui01/agentswarm/types"
)

// =============================================================================
// 🧪 PeerHandler 测试
// =============================================================================

func TestPeerHandler_Delegate(t *testing.T) {
	h := newSwarmHarness(t)

	w := h.post(mesh.PathDelegate, mesh.DelegateRequest{
		TaskID:       "t-1",
		OriginNodeID: "node-o",
		CallbackURL:  "http://node-o",
		TaskText:     "scan",
	})
	require.Equal(t, http.StatusOK, w.Code)
	var resp mesh.DelegateResponse
	env := testutil.DecodeEnvelope(t, w, &resp)
	assert.True(t, env.Success)
	assert.True(t, resp.Accepted)
	assert.Equal(t, "t-1", resp.TaskID)
	require.Len(t, h.inbox.Tasks(), 1)

	w = h.post(mesh.PathDelegate, mesh.DelegateRequest{
		TaskText:    "needs gpu",
		Constraints: &types.TaskConstraints{ToolAllowlist: []string{"gpu"}},
	})
	require.Equal(t, http.StatusOK, w.Code)
	testutil.DecodeEnvelope(t, w, &resp)
	assert.False(t, resp.Accepted)
	assert.Contains(t, resp.Reason, "gpu")
}

func TestPeerHandler_RejectsNonJSON(t *testing.T) {
	h := newSwarmHarness(t)
	r := testutil.JSONRequest(http.MethodPost, mesh.PathHeartbeat, "{}")
	r.Header.Set("Content-Type", "text/plain")

	w := h.do(r)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPeerHandler_RFQ(t *testing.T) {
	h := newSwarmHarness(t)
	rfq := fixtures.RFQ("node-o", time.Now(), 30*time.Second)

	w := h.post(mesh.PathRFQ, rfq)
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Len(t, h.inbox.Solicitations(), 1)

	w = h.post(mesh.PathRFQ, rfq)
	assert.Equal(t, http.StatusConflict, w.Code)

	stale := fixtures.RFQ("node-o", time.Now().Add(-time.Minute), time.Second)
	w = h.post(mesh.PathRFQ, stale)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = h.post(mesh.PathRFQ, types.TaskRFQ{RFQID: "r"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPeerHandler_Bid(t *testing.T) {
	h := newSwarmHarness(t)
	rec, err := h.auction.CreateAuction(testutil.TestContext(t), "scan", "s-1", nil, nil)
	require.NoError(t, err)
	require.Len(t, h.mesh.RFQs(), 1)

	bid := types.BidObject{
		RFQID:               rec.RFQ.RFQID,
		BidderNodeID:        "peer-a",
		EstimatedCostUSD:    0.2,
		EstimatedDurationMs: 1000,
	}
	w := h.post(mesh.PathBids, bid)
	require.Equal(t, http.StatusOK, w.Code)
	var res auction.BidResult
	testutil.DecodeEnvelope(t, w, &res)
	assert.True(t, res.Accepted)

	w = h.post(mesh.PathBids, bid)
	assert.Equal(t, http.StatusConflict, w.Code)
	env := testutil.DecodeEnvelope(t, w, nil)
	require.NotNil(t, env.Error)
	assert.Contains(t, env.Error.Message, auction.ReasonDuplicateBid)

	got, ok := h.auction.Get(rec.RFQ.RFQID)
	require.True(t, ok)
	assert.Len(t, got.Bids, 1)
}

func TestPeerHandler_ResultSettlesDelegation(t *testing.T) {
	h := newSwarmHarness(t)
	done := h.distributeAsync(distributor.DistributeRequest{TaskText: "scan", SessionID: "s-1"})

	active := h.waitActive(t, 1)
	taskID := active[0].TaskID
	assert.Equal(t, "peer-a", active[0].PeerNodeID)

	w := h.post(mesh.PathCheckpoint, mesh.Checkpoint{TaskID: taskID, PeerNodeID: "peer-a"})
	require.Equal(t, http.StatusOK, w.Code)
	var cp CheckpointResponse
	testutil.DecodeEnvelope(t, w, &cp)
	assert.True(t, cp.Recorded)

	w = h.post(mesh.PathResults, fixtures.CompletedResult(taskID, "peer-b"))
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, 1, h.dist.ActiveCount())

	w = h.post(mesh.PathResults, fixtures.CompletedResult(taskID, "peer-a"))
	require.Equal(t, http.StatusOK, w.Code)
	var resolved ResolveResponse
	testutil.DecodeEnvelope(t, w, &resolved)
	assert.True(t, resolved.Resolved)

	out := awaitRecorder(t, done)
	require.Equal(t, http.StatusOK, out.Code)
	var res distributor.DistributeResult
	env := testutil.DecodeEnvelope(t, out, &res)
	assert.True(t, env.Success)
	assert.Equal(t, "peer-a", res.PeerNodeID)
	require.NotNil(t, res.Result)
	assert.Equal(t, types.TaskStatusCompleted, res.Result.Status)

	rep, ok := h.rep.GetReputation("peer-a")
	require.True(t, ok)
	assert.Equal(t, 1, rep.TasksCompleted)

	w = h.post(mesh.PathResults, fixtures.CompletedResult(taskID, "peer-a"))
	require.Equal(t, http.StatusOK, w.Code)
	testutil.DecodeEnvelope(t, w, &resolved)
	assert.False(t, resolved.Resolved)
}

func TestPeerHandler_ResultValidation(t *testing.T) {
	h := newSwarmHarness(t)

	w := h.post(mesh.PathResults, types.SwarmTaskResult{Status: types.TaskStatusCompleted})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = h.post(mesh.PathResults, types.SwarmTaskResult{TaskID: "t", Status: "done"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = h.post(mesh.PathCheckpoint, mesh.Checkpoint{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPeerHandler_Heartbeat(t *testing.T) {
	h := newSwarmHarness(t)

	w := h.post(mesh.PathHeartbeat, mesh.Heartbeat{Identity: fixtures.Peer("node-o", 0).Identity})
	require.Equal(t, http.StatusOK, w.Code)
	_, ok := h.directory.GetPeer("node-o")
	assert.True(t, ok)

	w = h.post(mesh.PathHeartbeat, mesh.Heartbeat{Identity: types.PeerIdentity{NodeID: "self"}})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestPeerHandler_Unavailable(t *testing.T) {
	h := NewPeerHandler(PeerDependencies{}, zap.NewNop())
	mux := http.NewServeMux()
	h.Register(mux)

	for _, path := range []string{mesh.PathDelegate, mesh.PathRFQ, mesh.PathBids, mesh.PathResults, mesh.PathCheckpoint, mesh.PathHeartbeat} {
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, testutil.JSONRequest(http.MethodPost, path, "{}"))
		assert.Equal(t, http.StatusServiceUnavailable, w.Code, path)
	}
}

func TestInboxError(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{inbox.ErrInvalid, http.StatusBadRequest},
		{inbox.ErrUnknownTask, http.StatusNotFound},
		{inbox.ErrUnknownRFQ, http.StatusNotFound},
		{mesh.ErrPeerNotFound, http.StatusNotFound},
		{inbox.ErrReplayedNonce, http.StatusConflict},
		{inbox.ErrDeadlinePassed, http.StatusUnprocessableEntity},
		{inbox.ErrInboxFull, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteError(w, inboxError(tt.err), nil)
			assert.Equal(t, tt.status, w.Code)
		})
	}
}
