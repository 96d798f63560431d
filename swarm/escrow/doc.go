// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
Package escrow 实现以任务为键的经济保证金账本。

# 概述

每个节点拥有一个余额账户。HoldBond 将资金从余额转入以
(task_id, node_id) 为键的保证金；ReleaseBond 原额退回；
SlashBond 按比例罚没，剩余部分退回。同一键上的状态转换是原子的，
保证金只能结算一次，重复释放或重复罚没返回 ErrBondNotHeld。

# 实现

  - MemoryLedger — 进程内互斥锁实现
  - RedisLedger  — 基于 Lua 脚本的 Redis 实现，可跨进程共享

# 默认罚没策略

违约罚没 50%，超时罚没 25%（SlashPolicy，可配置）。
*/
package escrow
