// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package handlers 提供 StoryFlow HTTP API 的请求处理器实现。

# 核心类型

  - WorkflowHandler：工作流列表、启动运行、恢复挂起运行、查询运行与历史
  - EventsHandler：通过 websocket 推送运行事件
  - AgentHandler：只读的 Agent 目录
  - HealthHandler：/health、/ready、/version
  - Response：统一 JSON 信封（success + data + error + timestamp）

# 错误映射

WriteError 通过 types.HTTPStatusOf 把 *types.Error 映射为状态码：
INVALID_SHAPE 为 400，RUN_NOT_FOUND 为 404，RUN_EXPIRED 为 410，
STEP_FAILED 为 502。其他错误一律按 INTERNAL_ERROR 返回，不暴露原因。

运行是同步执行的，挂起不是错误，响应中 status 为 suspended。
*/
package handlers
