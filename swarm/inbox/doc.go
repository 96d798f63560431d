// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
Package inbox 是被委派一侧的接收箱。

# 概述

其他节点通过 /api/v1/swarm/delegate 委派来的任务与通过
/api/v1/swarm/rfq 发来的询价都落在这里，等待本地执行方领取。
任务沿用委派方的 TaskID，完成时在委派方的证明链上追加本节点
签名的一跳，再回报给委派方的回调地址。询价按 nonce 去重，
重放的询价与已过截止时间的询价直接拒绝。

# 核心类型

  - Inbox        — 待处理任务与开放询价
  - NonceGuard   — 询价 nonce 去重接口，MemoryNonces 为进程内实现，
    Redis 实现见 internal/cache
  - Reporter     — 回报结果、检查点与投标，mesh.HTTPTransport 实现该接口
  - Quote        — 本地执行方给出的报价
*/
package inbox
