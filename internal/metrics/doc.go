// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
包 metrics 提供基于 Prometheus 的指标采集，覆盖 HTTP、工作流、工具、LLM、
缓存与数据库。

# 核心类型

  - Collector：持有全部向量指标，注册到调用方给出的 Registerer。
    它实现 workflow.Observer、tools.Observer 与 agent.Observer，
    由 cmd/storyflow 在装配时挂到执行器、工具执行器与 Agent 上。

# 指标

  - workflow_runs_total / workflow_run_duration_seconds：按 workflow/status 分组，
    挂起的运行额外计入 workflow_suspensions_total。
  - workflow_steps_total / workflow_step_duration_seconds：按 workflow/step 分组。
  - tool_calls_total、llm_requests_total、llm_tokens_used_total。
  - http_requests_total：状态码归类为 2xx/3xx/4xx/5xx。
  - cache_hits_total / cache_misses_total、db_connections_open / db_connections_idle。
*/
package metrics
