// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 migration 管理尝试日志表（sigflow_attempts）的版本化 Schema，
基于 golang-migrate，支持 PostgreSQL、MySQL 与 SQLite。

# 概述

attemptlog 默认在启动时用 GORM AutoMigrate 建表。生产环境关闭
attempt_log.auto_migrate 后，改由 `sigflow migrate up` 执行本包内嵌的
SQL 迁移，表结构与 attemptlog.Record 保持一致。SQLite 使用 glebarez
纯 Go 驱动打开连接，与尝试日志共用同一个驱动。

# 核心类型

  - Migrator / DefaultMigrator：Up/Down/DownAll/Steps/Goto/Force/
    Version/Status/Info/Close。
  - Config：方言、连接串、版本表名（默认 sigflow_schema_migrations）与锁超时。
  - CLI：面向终端的格式化输出，Run 按动作名分发。
  - NewMigratorFromConfig：从 config.Config 的 attempt_log.database 创建。
*/
package migration
