// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
包 memory 提供智能体的工作记忆与向量记忆。

# 工作记忆

工作记忆是一段按 (agent, session) 保存的文本，通常由模板初始化，
模型在回复中给出新的内容后整体替换。[WorkingMemoryStore] 定义
Get / Set / Update 三个操作，其中 Update 保证同一个 key 的并发写入
按顺序生效：

  - [InMemoryStore]：每个 key 一把互斥锁
  - [RedisStore]：WATCH/MULTI 乐观事务，冲突时重试
  - [MongoStore]：基于 version 字段的 compare-and-swap

重试次数耗尽时返回 MEMORY_CONFLICT 错误。Update 的回调可能因重试被
调用多次，回调内不应产生副作用。

[WorkingMemory] 将存储、智能体名称与模板绑定在一起，空会话读取时返回模板。

# 向量记忆

[VectorStore] 提供 Upsert / Query，[InMemoryVectorStore] 使用余弦相似度，
支持按元数据等值过滤。网页抓取工具使用它保存页面分块。
*/
package memory
