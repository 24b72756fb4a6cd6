// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
包 agent 提供基于提示词与工具集的智能体。

# 概述

[Agent] 由名称、指令、模型、工具列表与可选的工作记忆组成，
通过 [New] 创建后不可变。[Agent.Generate] 是唯一的调用入口：

 1. 组装系统提示：指令 + 工作记忆（按 token 预算截断）+ JSON Schema 输出说明
 2. 调用 llm.Provider，若模型返回工具调用则交给 llm/tools 执行器执行，
    结果以 tool 消息回填，最多 MaxToolRounds 轮（默认 5）
 3. 从最终回复中提取 <working_memory> 块写回工作记忆
 4. 按 schema 校验并解码结构化输出

任何一步失败都返回 AGENT_FAILED，原始错误（TOOL_FAILED、UPSTREAM_ERROR、
校验错误等）保留在 Cause 链上。

# 注册表

[Registry] 按名称保存 Agent，由调用方显式创建并传递。
*/
package agent
