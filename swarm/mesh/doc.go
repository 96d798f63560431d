// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
Package mesh 实现委派核心所依赖的对等网络协作方。

# 概述

Mesh 接口是分发器与拍卖消费的边界：活跃节点列表、节点查询、
本节点身份、群体令牌、任务委派以及 RFQ 广播。

# 核心类型

  - Directory：已知节点及其存活状态。心跳刷新节点；Sweep 在缺失
    3 个心跳周期后将节点标记为 suspected，6 个周期后标记为 unreachable，
    并回调降级处理器（通常接到 Distributor.HandlePeerDegradation）。
  - HTTPTransport：JSON over HTTP 的节点 API 客户端，每个请求携带
    X-Swarm-Token 头与 OpenTelemetry 追踪上下文，每个节点地址一个熔断器。
  - Node：组合 Directory 与 HTTPTransport 实现 Mesh；熔断器打开时
    委派被报告为拒绝而非错误，使分发器继续尝试下一个候选节点。
*/
package mesh
