// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package handlers 提供群组节点 HTTP API 的请求处理器实现。

# 概述

handlers 包实现了节点所有 HTTP 端点的请求处理逻辑，
包括节点间协议端点、运维端点、本地收件箱、WebSocket 事件流、
健康检查以及统一的响应/错误处理。
所有 Handler 均遵循标准 net/http 接口，并通过 Register 挂载到
使用方法模式（"POST /path/{id}"）的 http.ServeMux 上。

# 核心类型

  - PeerHandler      — 节点间端点：委托接收、RFQ、出价、结果、检查点、心跳
  - SwarmHandler     — 运维端点：分发任务、委托查询与取消、节点信任视图、
    隔离、声誉、合约、拍卖
  - InboxHandler     — 本地运行时端点：领取任务、上报进度与结果、对 RFQ 出价
  - EventsHandler    — 基于 coder/websocket 的事件流，支持 ?kind= 过滤
  - HealthHandler    — 服务健康检查（/health, /healthz, /ready, /version）
  - Response         — 统一 JSON 响应结构（success + data + error + timestamp）
  - ErrorInfo        — 结构化错误信息，含 code、message、retryable 标记
  - ResponseWriter   — 包装 http.ResponseWriter 以捕获状态码

# 主要能力

  - 统一响应格式：WriteSuccess / WriteError / WriteErr / WriteJSON
  - 请求验证：DecodeJSONBody（1 MB 限制 + 严格模式）、ValidateContentType
  - ErrorCode → HTTP 状态码映射由 types.StatusForCode 提供
  - 结果发送方校验：非受托节点提交的结果返回 403
  - RFQ 重放（409）与过期（422）拒绝
  - 可扩展健康检查：RegisterCheck 注册数据库、Redis 与账本存储检查，RegisterAdvisory 注册 mesh 等提示性检查
*/
package handlers
