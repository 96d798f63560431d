// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
Package circuitbreaker 提供面向对等节点调用的熔断器。

# 概述

Breaker 实现 Closed → Open → HalfOpen 状态机：连续失败达到阈值后熔断，
ResetTimeout 过后进入半开状态放行有限次数的探测调用，探测成功即恢复。
Registry 按键（通常是节点 ID）懒加载独立的熔断器，使一个故障节点
不会影响对其他节点的调用。

IsFailure 可自定义哪些错误计入失败，例如对端明确拒绝任务不应触发熔断。
*/
package circuitbreaker
