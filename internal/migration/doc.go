// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
包 migration 管理运行历史库的 Schema，支持 PostgreSQL、MySQL 与 SQLite，
基于 golang-migrate 实现。

# 表结构

  - workflow_runs：每个运行一行，记录状态、输入输出与起止时间。
  - workflow_run_steps：按 seq 保存运行路径上的每一步，随运行级联删除。

# 核心类型

  - Migrator：CLI 依赖的操作集（Up/Down/Steps/Force/Version/Status/Info）。
  - SchemaMigrator：golang-migrate 实现，迁移文件通过 embed.FS 内嵌。
  - CLI：storyflow migrate 子命令的格式化输出，Run 负责参数分发。

SQLite 使用纯 Go 驱动（注册名 "sqlite"），无需 CGO。
*/
package migration
