// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
包 providers 提供 OpenAI 兼容协议的公共转换层，供 openaicompat 子包复用。

# 核心类型

  - OpenAICompat* 系列：请求、响应、工具调用与错误体的线上结构

# 核心函数

  - MapHTTPError：将 HTTP 状态码映射为带 Retryable 标记的 llm.Error
  - ReadErrorMessage：从错误响应体中提取可读信息
  - ConvertMessagesToOpenAI / ConvertToolsToOpenAI：消息与工具格式转换
  - ToLLMChatResponse：线上响应到 llm.ChatResponse 的转换
  - ChooseModel：按 请求 > 默认 > 兜底 的顺序选择模型
*/
package providers
