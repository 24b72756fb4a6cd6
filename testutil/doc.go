// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package testutil 提供 storyflow 测试的共享工具和辅助函数。

# 核心能力

  - 上下文辅助: TestContext / TestContextWithTimeout / CancelledContext，
    自动注册 Cleanup 防止泄漏
  - 断言工具: AssertJSONEqual（与字段顺序无关）
  - 异步断言: AssertEventuallyTrue / WaitFor / WaitForChannel
  - 数据工具: MustJSON

# 子包

  - testutil/mocks: MockProvider（llm.Provider），支持脚本化回复队列、
    按系统提示关键字路由回复（多个 Agent 并发共享时使用）与错误注入

# 使用示例

	ctx := testutil.TestContext(t)
	provider := mocks.NewMockProvider().
		ThenToolCalls(llm.ToolCall{ID: "1", Name: "search", Arguments: args}).
		ThenText(`{"answer":"42"}`)
*/
package testutil
