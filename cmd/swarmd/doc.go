// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package main 提供 swarmd 节点程序入口。

# 概述

cmd/swarmd 运行一个 swarm 节点：它既作为委派方把任务分发给 peer，
也作为 peer 接收其他节点委派的任务与 RFQ。程序提供 HTTP API 服务、
数据库迁移、签名密钥生成、健康检查和版本查询等子命令，支持 YAML
配置文件加环境变量覆盖、结构化日志（zap）、Prometheus 指标与
OpenTelemetry 追踪。

# 核心类型

  - Server         — 主服务器，构建全部 swarm 组件并管理 HTTP、Metrics 双端口及优雅关闭
  - Middleware     — HTTP 中间件函数签名 func(http.Handler) http.Handler
  - statusRecorder — 包装 http.ResponseWriter 以捕获状态码，透传 Hijack 供 WebSocket 升级

# 主要能力

  - 子命令：serve、migrate、keygen、version、health
  - 组件装配：mesh 节点与目录、声誉/合约/保证金账本、拍卖、根因分析、
    工作分发器、收件箱、事件总线与 WebSocket 事件流
  - 中间件链：Recovery、RequestID、SecurityHeaders、RequestLogger、
    OTelTracing、MetricsMiddleware、CORS、RateLimiter、
    SwarmTokenAuth（peer API）、JWTAuth（运维 API）
  - 后台任务：心跳与目录清扫、拍卖清理、收件箱过期清理、合约清理，
    由 errgroup 统一管理
  - 优雅关闭：停止 HTTP → 取消进行中的委派 → 停止后台任务 → 关闭 Metrics、
    遥测、Redis 与数据库
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main
