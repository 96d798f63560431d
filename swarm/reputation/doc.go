// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
Package reputation 维护每个对等节点的结果历史并派生信任分数。

# 概述

Ledger 在内存中累积完成/失败/中止计数、资源消耗、平均延迟与
连续成功/失败序列，并据此重新派生 [0,1] 区间内的信任分数。
信任分数只能由 RecordOutcome 派生，不提供直接写入的入口。
未知节点返回中性默认值 0.5。

可选的 Store（GormStore）提供写穿透持久化，Load 在启动时预热内存索引；
持久化失败只记录日志，不影响账本本身。

# 信任公式

	base  = (completed + 1) / (completed + failed + aborted + 2)
	bonus = min(0.1, 0.02 × consecutive_successes)
	malus = min(0.2, 0.05 × consecutive_failures)
	score = clamp(base + bonus − malus, 0, 1)
*/
package reputation
