// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
包 database 负责打开运行历史库并管理其连接池。

# 核心类型

  - Open / Dialector：按 config.DatabaseConfig 选择 sqlite（纯 Go）、
    postgres 或 mysql 方言并建立 GORM 连接。
  - PoolManager：连接池管理器，提供 DB()、Ping()、Stats()、Close()，
    以及 WithTransaction / WithTransactionRetry 事务封装。
  - StatsRecorder：健康检查时接收打开与空闲连接数，
    由 metrics.Collector 实现。

后台健康检查按 HealthCheckInterval 探活，Close 时停止。
*/
package database
