// 群组测试数据工厂：对等节点、任务结果与 RFQ 的预置样例。
package fixtures

import (
	"time"

	"github.com/google/uuid"

	"github.com/BaSui01/agentswarm/types"
)

// Peer 返回一个活跃的对等节点条目
func Peer(id string, latencyMs int64, caps ...string) types.PeerEntry {
	return types.PeerEntry{
		Identity: types.PeerIdentity{
			NodeID:       id,
			DisplayName:  id,
			APIURL:       "http://" + id,
			Capabilities: caps,
			Version:      "test",
		},
		Status:        types.PeerStatusActive,
		LastLatencyMs: latencyMs,
	}
}

// CompletedResult 返回一个成功完成的任务结果
func CompletedResult(taskID, peerID string) *types.SwarmTaskResult {
	return &types.SwarmTaskResult{
		TaskID:     taskID,
		PeerNodeID: peerID,
		Status:     types.TaskStatusCompleted,
		Findings: []types.Finding{
			{Title: "scan", Tool: "shell", Status: "ok", Summary: "done"},
		},
		TokensUsed: 100,
		CostUSD:    0.1,
		DurationMs: 100,
	}
}

// FailedResult 返回一个失败的任务结果
func FailedResult(taskID, peerID string) *types.SwarmTaskResult {
	r := CompletedResult(taskID, peerID)
	r.Status = types.TaskStatusFailed
	return r
}

// RFQ 返回一个在 now 之后 deadline 内开放的 RFQ
func RFQ(originator string, now time.Time, deadline time.Duration) types.TaskRFQ {
	return types.TaskRFQ{
		RFQID:            uuid.NewString(),
		TaskText:         "enumerate open ports",
		SessionID:        "session-1",
		BidDeadlineMs:    deadline.Milliseconds(),
		Round:            1,
		OriginatorNodeID: originator,
		Nonce:            uuid.NewString(),
		Timestamp:        now,
	}
}
