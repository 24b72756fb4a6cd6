// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package workflow 提供带类型校验的步骤编排与执行引擎。

# 概述

工作流由若干有序节点组成，每个节点是 then（顺序）、parallel（并行扇出）、
foreach（逐元素映射）或 branch（条件分支）之一。步骤之间以 JSON 传递数据，
每个步骤声明输入与输出的 JSON Schema。Builder.Commit 时会逐条检查相邻
节点的 Schema 兼容性，运行时在步骤执行前后分别校验输入与输出。

# 核心类型

  - Step / NewStep / NewRawStep：步骤定义，泛型版本自动推导 Schema
  - Builder / Workflow：Fluent 构建与冻结后的工作流
  - Executor：执行 Run / Resume / Inspect
  - StepContext：运行 ID、运行时上下文、Suspend 挂起
  - SuspendStore：挂起状态存储（内存 / Redis，带 TTL）
  - HistoryStore：运行记录存储
  - EventBus：运行事件的订阅与分发

# 挂起与恢复

步骤调用 StepContext.Suspend 后运行进入 suspended 状态，状态快照保存在
SuspendStore 中。Resume 时以 MergeJSON(原输入, 恢复数据) 重新执行挂起的
步骤，已完成的并行分支或 foreach 元素直接复用其输出。
*/
package workflow
