// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
Package auction 运行询价 / 投标 / 授标的竞争性任务拍卖。

# 概述

CreateAuction 生成带新 ID 与随机数的 RFQ，并发广播给所有活跃节点，
状态从 open 转为 collecting。ReceiveBid 依次校验：拍卖存在、
仍在收标、未超截止时间、投标人+轮次不重复、未被 Guard 限流、
携带的信誉保证金能在托管账本中冻结。AwardAuction 在达到最小
投标数后选出得分最高的投标，并释放所有落选者的保证金；
投标不足或无正分投标时返回 Awarded=false 而不是报错。

终态拍卖在一小时后由 Cleanup 清除，Start 以固定周期运行清理。

# 拍卖状态

	open → collecting → evaluating → awarded | expired
	open | collecting | evaluating → cancelled
*/
package auction
