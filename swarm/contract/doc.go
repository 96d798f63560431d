// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
Package contract 管理委托合约的生命周期。

# 概述

合约绑定委托方、受托方、任务以及 SLO/监控/权限三元组，
状态只能从 active 转换到 completed、violated 或 cancelled 之一，
且只能终止一次。Complete 会依据结果检查 SLO：
耗时、Token 或成本任一超出预算即标记为 violated。

# 持久化

Ledger 维护内存索引，可选的 Store（GormStore）提供写穿透持久化。
持久化失败仅记录日志，不影响合约状态转换。
*/
package contract
