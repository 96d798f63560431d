// MockMesh 是 mesh.Mesh 的 testify 模拟实现。
//
// 对等节点列表与身份通过 Builder 方法预置。默认模式下 DelegateTask
// 接受并沿用任务 ID，调用记录可通过 Delegations / RFQs 读取；
// Strict 模式下两者都按 On(...) 期望返回。
package mocks

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/BaSui01/agentswarm/swarm/mesh"
	"github.com/BaSui01/agentswarm/types"
)

// MockMesh 模拟本地节点的对等网络视图
type MockMesh struct {
	mock.Mock

	mu       sync.RWMutex
	identity types.PeerIdentity
	token    string
	peers    []types.PeerEntry
	strict   bool

	delegations []Delegation
	rfqs        []types.TaskRFQ
}

// Delegation 记录一次 DelegateTask 调用
type Delegation struct {
	PeerID  string
	Request mesh.DelegateRequest
}

// NewMockMesh 创建以 selfID 为身份的 MockMesh
func NewMockMesh(selfID string) *MockMesh {
	return &MockMesh{
		identity: types.PeerIdentity{NodeID: selfID, APIURL: "http://" + selfID},
		token:    "swarm-token",
	}
}

// WithPeers 追加活跃对等节点
func (m *MockMesh) WithPeers(peers ...types.PeerEntry) *MockMesh {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.peers = append(m.peers, peers...)
	return m
}

// WithToken 设置群组令牌
func (m *MockMesh) WithToken(token string) *MockMesh {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = token
	return m
}

// Strict 使 DelegateTask 与 SendRFQ 只按 On(...) 期望返回
func (m *MockMesh) Strict() *MockMesh {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.strict = true
	return m
}

// GetActivePeers 实现 mesh.Mesh
func (m *MockMesh) GetActivePeers() []types.PeerEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.PeerEntry, 0, len(m.peers))
	for _, p := range m.peers {
		if p.Status == types.PeerStatusActive {
			out = append(out, p)
		}
	}
	return out
}

// GetPeer 实现 mesh.Mesh
func (m *MockMesh) GetPeer(nodeID string) (types.PeerEntry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.peers {
		if p.NodeID() == nodeID {
			return p, true
		}
	}
	return types.PeerEntry{}, false
}

// GetIdentity 实现 mesh.Mesh
func (m *MockMesh) GetIdentity() types.PeerIdentity {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.identity
}

// GetSwarmToken 实现 mesh.Mesh
func (m *MockMesh) GetSwarmToken() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.token
}

// DelegateTask 实现 mesh.Mesh
func (m *MockMesh) DelegateTask(ctx context.Context, peerID string, req mesh.DelegateRequest) (mesh.DelegateResponse, error) {
	m.mu.Lock()
	m.delegations = append(m.delegations, Delegation{PeerID: peerID, Request: req})
	strict := m.strict
	m.mu.Unlock()
	if !strict {
		return mesh.DelegateResponse{Accepted: true, TaskID: req.TaskID}, nil
	}
	args := m.Called(ctx, peerID, req)
	return args.Get(0).(mesh.DelegateResponse), args.Error(1)
}

// SendRFQ 实现 mesh.Mesh
func (m *MockMesh) SendRFQ(ctx context.Context, peerAddress string, rfq types.TaskRFQ) error {
	m.mu.Lock()
	m.rfqs = append(m.rfqs, rfq)
	strict := m.strict
	m.mu.Unlock()
	if !strict {
		return nil
	}
	return m.Called(ctx, peerAddress, rfq).Error(0)
}

// Delegations 返回已记录的委托调用
func (m *MockMesh) Delegations() []Delegation {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Delegation(nil), m.delegations...)
}

// RFQs 返回已发送的 RFQ
func (m *MockMesh) RFQs() []types.TaskRFQ {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]types.TaskRFQ(nil), m.rfqs...)
}

var _ mesh.Mesh = (*MockMesh)(nil)
