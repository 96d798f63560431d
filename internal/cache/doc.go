// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 cache 管理 swarmd 共享的 Redis 连接，并提供询价 nonce 去重。

# 概述

Manager 负责 go-redis 客户端的生命周期：创建时 Ping 确认可达，
后台定时健康检查，Close 时停止检查并释放连接池。托管账本的
Redis 实现通过 Client 复用同一连接池；接收箱通过 Claim 以
SET NX 记录询价 nonce，拒绝重放的询价。

# 核心类型

  - Manager：持有 Redis 客户端，提供 Client/Claim/Ping/Close。
  - Config：地址、密码、连接池大小、健康检查间隔与键前缀。

# 主要能力

  - 连接池管理：通过 PoolSize 与 MinIdleConns 控制连接复用。
  - nonce 去重：Claim 满足 inbox.NonceGuard，带过期时间。
  - 健康检查：后台定时 Ping 检测，异常时通过 zap 日志告警。
  - 优雅关闭：Close 可重复调用，之后的操作返回 ErrClosed。
*/
package cache
