// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 server 管理 swarmd 的 HTTP 监听端口。

# 概述

同一个端口上既有 peer 端点（委派、RFQ、出价、结果、检查点、心跳），
也有运维 API 和 WebSocket 事件流。Manager 负责监听、后台服务、
信号等待与限时关闭，swarmd 的主端口和 Metrics 端口各持有一个实例。

# 核心类型

  - Manager：持有 http.Server、net.Listener 与异步错误通道
  - Config：监听地址、读写与空闲超时、请求头上限、关闭超时、连接上限

# 主要能力

  - Start / StartTLS 在后台 goroutine 中服务，监听失败同步返回
  - StartTLS 使用 tlsutil.ServerConfig 的结果，配置 CA 时要求 peer 出示证书
  - MaxConnections 通过 x/net/netutil.LimitListener 限制并发连接
  - WaitForShutdown 等待 SIGINT/SIGTERM 或服务错误后调用 Shutdown
  - Shutdown 可重复调用，只关闭一次
*/
package server
