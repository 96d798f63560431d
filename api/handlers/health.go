package handlers

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/agentswarm/types"
)

// =============================================================================
// 🏥 健康检查 Handler
// =============================================================================

// HealthHandler 健康检查处理器
type HealthHandler struct {
	logger *zap.Logger
	checks []registeredCheck
	nodeID string
	mu     sync.RWMutex
}

type registeredCheck struct {
	HealthCheck
	advisory bool
}

// HealthCheck 健康检查接口
type HealthCheck interface {
	Name() string
	Check(ctx context.Context) error
}

// HealthStatus 健康状态响应
type HealthStatus struct {
	Status    string                 `json:"status"` // "healthy", "degraded", "unhealthy"
	Timestamp time.Time              `json:"timestamp"`
	Version   string                 `json:"version,omitempty"`
	NodeID    string                 `json:"node_id,omitempty"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// CheckResult 单个检查结果
type CheckResult struct {
	Status  string `json:"status"` // "pass", "warn", "fail"
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// NewHealthHandler 创建健康检查处理器
func NewHealthHandler(logger *zap.Logger) *HealthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthHandler{
		logger: logger.With(zap.String("component", "health")),
		checks: make([]registeredCheck, 0),
	}
}

// WithNodeID 在健康响应中附带本节点 ID
func (h *HealthHandler) WithNodeID(nodeID string) *HealthHandler {
	h.nodeID = nodeID
	return h
}

// RegisterCheck 注册健康检查，失败时 /ready 返回 503
func (h *HealthHandler) RegisterCheck(check HealthCheck) {
	h.register(registeredCheck{HealthCheck: check})
}

// RegisterAdvisory 注册提示性检查，失败时节点仍就绪但状态为 degraded
func (h *HealthHandler) RegisterAdvisory(check HealthCheck) {
	h.register(registeredCheck{HealthCheck: check, advisory: true})
}

func (h *HealthHandler) register(c registeredCheck) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, c)
}

// =============================================================================
// 🎯 HTTP 处理程序
// =============================================================================

// HandleHealth 处理 /health 请求（简单健康检查）
// @Summary 健康检查
// @Description 简单的健康检查端点
// @Tags 健康
// @Produce json
// @Success 200 {object} HealthStatus "服务正常"
// @Failure 503 {object} HealthStatus "服务不健康"
// @Router /health [get]
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now(),
		NodeID:    h.nodeID,
	}

	WriteJSON(w, http.StatusOK, status)
}

// HandleHealthz 处理 /healthz 请求（Kubernetes 风格）
// @Summary Kubernetes 活跃度探针
// @Description Kubernetes 的活跃度探针
// @Tags 健康
// @Produce json
// @Success 200 {object} HealthStatus "服务处于活动状态"
// @Router /healthz [get]
func (h *HealthHandler) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	// Liveness probe - 只检查服务是否运行
	status := HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now(),
	}

	WriteJSON(w, http.StatusOK, status)
}

// HandleReady 处理 /ready 或 /readyz 请求（就绪检查）
// @Summary 准备情况检查
// @Description 检查服务是否准备好接受流量
// @Tags 健康
// @Produce json
// @Success 200 {object} HealthStatus "服务已准备就绪"
// @Failure 503 {object} HealthStatus "服务尚未准备好"
// @Router /ready [get]
func (h *HealthHandler) HandleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	h.mu.RLock()
	checks := make([]registeredCheck, len(h.checks))
	copy(checks, h.checks)
	h.mu.RUnlock()

	status := HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now(),
		NodeID:    h.nodeID,
		Checks:    make(map[string]CheckResult),
	}

	ready, degraded := true, false
	for _, check := range checks {
		start := time.Now()
		err := check.Check(ctx)
		latency := time.Since(start)

		result := CheckResult{
			Status:  "pass",
			Latency: latency.String(),
		}

		if err != nil {
			result.Status = "fail"
			result.Message = err.Error()
			if check.advisory {
				result.Status = "warn"
				degraded = true
			} else {
				ready = false
			}

			h.logger.Warn("health check failed",
				zap.String("check", check.Name()),
				zap.Bool("advisory", check.advisory),
				zap.Error(err),
				zap.Duration("latency", latency),
			)
		}

		status.Checks[check.Name()] = result
	}

	if !ready {
		status.Status = "unhealthy"
		WriteJSON(w, http.StatusServiceUnavailable, status)
		return
	}
	if degraded {
		status.Status = "degraded"
	}

	WriteJSON(w, http.StatusOK, status)
}

// HandleVersion 处理 /version 请求
// @Summary 版本信息
// @Description 返回版本信息
// @Tags 健康
// @Produce json
// @Success 200 {object} map[string]string "版本信息"
// @Router /version [get]
func (h *HealthHandler) HandleVersion(version, buildTime, gitCommit string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		info := map[string]string{
			"version":    version,
			"build_time": buildTime,
			"git_commit": gitCommit,
		}

		WriteSuccess(w, info)
	}
}

// =============================================================================
// 🔧 内置健康检查实现
// =============================================================================

type funcCheck struct {
	name string
	fn   func(ctx context.Context) error
}

func (c funcCheck) Name() string                    { return c.name }
func (c funcCheck) Check(ctx context.Context) error { return c.fn(ctx) }

// NewCheck 将 ping 函数包装为 HealthCheck，例如数据库或 Redis 的 Ping
func NewCheck(name string, fn func(ctx context.Context) error) HealthCheck {
	return funcCheck{name: name, fn: fn}
}

// TableStore 是可以确认自身数据表存在的账本存储
type TableStore interface {
	Ping(ctx context.Context) error
}

// NewStoreCheck 检查账本的持久化表可读，名称形如 "reputation_store"
func NewStoreCheck(ledger string, store TableStore) HealthCheck {
	return funcCheck{name: ledger + "_store", fn: func(ctx context.Context) error {
		if err := store.Ping(ctx); err != nil {
			return fmt.Errorf("%s ledger cannot persist: %w", ledger, err)
		}
		return nil
	}}
}

// ActivePeers 列出当前可委派的对等节点
type ActivePeers interface {
	GetActivePeers() []types.PeerEntry
}

// NewMeshCheck 在活跃对等节点少于 min 时失败，此时委派只能回落到本地执行
func NewMeshCheck(peers ActivePeers, min int) HealthCheck {
	return funcCheck{name: "mesh", fn: func(context.Context) error {
		if n := len(peers.GetActivePeers()); n < min {
			return fmt.Errorf("%d active peers, want at least %d", n, min)
		}
		return nil
	}}
}
