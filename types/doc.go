// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package types 提供 swarm 节点的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 swarm/*、api、cmd
等上层模块提供统一的类型契约。跨包共享的节点、任务、合约、证明与
异常类型以及错误码均定义于此，以避免循环依赖。

# 核心类型

  - PeerEntry / PeerIdentity   — 网格目录中的对等节点及其存活状态
  - SwarmTaskResult / Finding  — 对等节点执行委托任务后返回的结果声明
  - TaskConstraints            — 委托任务的工具白名单与预算约束
  - ContractSLO 等三元组       — 受托方的预算、检查点节奏与权限边界
  - TaskAttestation / AttestationChain — 多跳委托的签名证明链
  - AnomalyReport / TaskAttributes     — 根因分析的输入
  - Error / ErrorCode          — 结构化错误体系，含 HTTP 状态码与 Retryable 标记

# 主要能力

  - Context 传播：WithTraceID / WithRequestID / WithSessionID / WithCallerNode
  - 错误工具链：AsError / GetErrorCode / IsRetryable / StatusForCode
  - 能力匹配：PeerEntry.HasAnyCapability / CapabilityOverlap
*/
package types
