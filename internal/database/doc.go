// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 database 为声誉账本与合约账本的持久化存储打开 GORM 连接。

# 概述

只有 reputation.store 或 contracts.store 配置为 "database" 时，
swarmd 才会调用 Open。驱动可以是 postgres、mysql 或纯 Go 的
glebarez sqlite。PoolManager 在后台定时探活，并把打开与空闲的
连接数交给 StatsSink，swarmd 把它接到 Prometheus 采集器。

# 核心类型

  - PoolManager：GORM DB 与底层 sql.DB 的持有者
  - PoolConfig：连接数上限、连接寿命、探活间隔
  - PoolStats：连接池统计快照
  - TransactionFunc：事务回调
  - QueryObserver：按 "操作:表" 上报每条语句耗时

# 主要能力

  - Dialector 按驱动名选择方言
  - Ping 供 /ready 的数据库检查使用
  - WithTransactionRetry 对死锁与序列化失败做指数退避重试，合约账本的终态写入经由它执行
  - WithQueryObserver 通过 GORM 回调把语句耗时交给 Prometheus
*/
package database
