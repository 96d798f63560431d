// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
Package distributor 是委派编排器：选择节点（或发起拍卖）、按信任签订
分级合约、跟踪在途委派，并在结果到达、超时、取消或节点降级时收尾。

# 概述

Distribute 按配置的策略（round_robin、capability_match、reputation、
multi_objective、pareto、auction）排序候选节点，依次尝试，最多
MaxRetries+1 次。每次委派先按信任分由 authority.FromTrust 生成 SLO、
监控与权限边界，按 SLO 成本冻结保证金，再发送给节点；节点接受后
创建合约并登记到在途表。

在途表以任务 ID 为键，每个委派只有一次终结转换：

	sending → active → resolved | cancelled | timed_out | degraded

终结时由唯一取得该条目的路径执行清理：停止计时器与检查点监控、
结算保证金、终结合约、移除重委派跟踪，并把结果写入完成通道。

# 失败处理

结果为 failed/aborted 时调用 rootcause 诊断并经 SelectResponse
决定动作：换节点、隔离后换节点、退避后重试同一节点、或升级/中止。
HandlePeerDegradation 先拆除降级节点上的委派，再在重委派预算内
转交给未降级、未失败的节点。

# 核心类型

  - Distributor: 编排器
  - DistributeRequest / DistributeResult: Distribute 的输入输出
  - ActiveDelegation: 在途委派快照
  - Recorder: 指标回调
*/
package distributor
