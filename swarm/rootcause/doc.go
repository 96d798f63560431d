// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
Package rootcause 诊断委派失败的根因并给出补救策略。

# 概述

Analyzer 按严格的优先级阶梯评估一次失败，第一条命中的规则胜出：

 1. malicious_behavior（0.9）：至少两条 suspicious_findings / data_access_violation 异常
 2. network_partition（0.7）：节点处于 suspected/unreachable 且检查点缺失达到阈值
 3. peer_overload（0.7，伴随 duration_spike 时 0.8）：当前延迟 ≥ 历史均值 × 比率
 4. task_complexity_mismatch（0.7）：高复杂度任务失败至少两次
 5. resource_exhaustion（0.7）：存在 cost_spike 异常
 6. transient_failure（0.5）：恰好一次失败且无异常
 7. unknown（0.3）：兜底，永远返回诊断

SelectResponse 结合任务属性（可逆性、关键性）覆盖诊断的推荐动作。

# 异常检测

Detector 在每次结果回收时将结果与节点历史及合同 SLO 比较，
产出 duration_spike、cost_spike、token_spike 与 suspicious_findings 报告。
*/
package rootcause
