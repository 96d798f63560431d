// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 config 提供 swarmd 的配置加载能力。

# 概述

配置按 默认值 → YAML 文件 → 环境变量 的顺序叠加。环境变量以
SWARM 为前缀，段名与键名取自 env tag；复用 swarm 组件自身配置
结构的段（distributor、authority、auction 等）沿用其 yaml 键名，
例如 SWARM_DISTRIBUTOR_MAX_RETRIES、SWARM_MESH_TRANSPORT_BREAKER_THRESHOLD。

# 核心类型

  - Config：完整配置，包含 server、node、distributor、authority、
    auction、root_cause、escrow、reputation、mesh、database、
    redis、log、telemetry 十三个段。
  - Loader：Builder 模式的加载器，支持自定义文件路径、前缀与验证器。

# 主要能力

  - Validate：检查端口、策略名、信任阈值顺序、罚没比例、
    存储后端与 mesh 存活阈值。
  - DistributorConfig：以 authority 与 escrow 段组装分发器配置。
  - DSN：按驱动生成 postgres/mysql/sqlite 连接串。
*/
package config
