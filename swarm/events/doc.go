// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
Package events 定义 swarm 核心发出的可观测事件。

# 概述

事件种类是一个封闭枚举（Kind），Bus 持有显式的处理器表，
未知种类在边界处即被拒绝（ErrUnknownKind），不会静默落空。
每个事件都是扁平的键值记录，投递为尽力而为，跨事件不保证顺序。

# 核心类型

  - Kind    — 封闭的事件种类枚举
  - Event   — 时间戳 + 种类 + 扁平字段
  - Bus     — 处理器表，按种类或全量订阅
  - Emitter — 组件依赖的最小发射接口
  - Journal — 将事件写入 zap 结构化日志的持久化事件日志
  - Stream  — 面向 websocket 等动态订阅者的扇出，慢订阅者丢弃而不阻塞
*/
package events
