// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 migration 维护 swarm 持久化表的 Schema 版本。

# 概述

两组迁移通过 embed.FS 内嵌，每种方言一份：
000001 创建 peer_reputations（声誉账本），000002 创建
delegation_contracts（合约账本）。迁移引擎是 golang-migrate，
sqlite 方言走 modernc 纯 Go 驱动。swarmd migrate 子命令是
本包唯一的入口，serve 启动时只做 GORM AutoMigrate。

# 核心类型

  - Migrator / DefaultMigrator：Up、Down、DownAll、Steps、Goto、Force、Version、Status、Info
  - Config：数据库类型、连接 URL、迁移表名、锁超时
  - DatabaseType：postgres / mysql / sqlite
  - MigrationStatus / MigrationInfo：版本与 dirty 状态
  - CLI：把 Migrator 的结果格式化输出到终端

# 主要能力

  - NewMigratorFromConfig 从 swarmd 配置的 database 段构造连接 URL
  - NewMigratorFromURL 直接使用 --db-type 与 --db-url
  - ctx 取消时 GracefulStop，当前迁移完成后停止
*/
package migration
