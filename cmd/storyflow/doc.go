// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package main 提供 StoryFlow 服务端与命令行入口。

# 概述

cmd/storyflow 按配置装配规划工作流所需的全部组件（模型、工具、工作记忆、
挂起存储、运行历史、指标与追踪），并通过 HTTP API 或命令行执行工作流。

# 核心类型

  - App：组件装配与按相反顺序释放，serve / run / resume 共用
  - Server：HTTP 路由、中间件链、定义目录监听及优雅关闭
  - Middleware：HTTP 中间件函数签名 func(http.Handler) http.Handler

# 主要能力

  - 子命令：serve、run、resume、migrate、version、health
  - 中间件链：Recovery、RequestID、SecurityHeaders、OTelTracing、
    MetricsMiddleware、RequestLogger、JWTAuth（配置 auth.jwt_secret 时启用）
  - 定义目录热加载：workflow.definitions_dir 中的 YAML 变化后重新提交工作流
  - /metrics 暴露独立 Prometheus registry，/ready 检查 Redis、MongoDB 与数据库
  - 构建注入：internal/telemetry.Version、main.BuildTime、main.GitCommit 通过 ldflags 设置
*/
package main
