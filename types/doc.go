// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package types 提供 storyflow 的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 workflow、agent、tools、
api 等上层模块提供统一的错误码与上下文传播约定，以避免循环依赖。

# 核心类型

  - Error / ErrorCode：结构化错误体系，含 HTTP 状态码、Retryable 与步骤 ID
  - AsError / IsErrorCode / GetErrorCode：沿错误链查找结构化错误
  - HTTPStatusOf：错误码到 HTTP 状态码的映射

# 主要能力

  - Context 传播：WithTraceID / WithUserID / WithRunID / WithWorkflowID /
    WithStepID / WithSessionID 及对应的读取函数
*/
package types
