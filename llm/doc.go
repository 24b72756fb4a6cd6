// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
包 llm 定义 StoryFlow 使用的大语言模型接入层：统一的请求/响应模型、
Provider 接口、错误语义，以及带重试与熔断的 Provider 包装。

# 核心类型

  - [Provider]：模型服务抽象，只有 Completion 与 Name 两个方法
  - [ChatRequest] / [ChatResponse]：与服务商无关的对话请求与响应
  - [Message] / [ToolCall] / [ToolSchema]：消息、工具调用与工具声明
  - [Error]：带 [ErrorCode]、HTTP 状态与 Retryable 标记的错误，
    可通过 ToTypesError 映射为 types.Error
  - [ResilientProvider]：指数退避重试 + 熔断（llm/circuitbreaker）

# 重试与熔断

只有 Retryable 为 true 的错误会被重试。熔断器只统计上游故障，
参数错误、鉴权失败与额度问题不会让 Provider 被熔断。熔断打开期间
Completion 直接返回 ErrModelOverloaded。

# 子包

  - providers / providers/openaicompat：OpenAI 兼容协议实现
  - tools：工具注册、参数校验、限流与审计
  - embedding：向量化 Provider
  - tokenizer：token 计数
  - circuitbreaker：通用熔断器
*/
package llm
