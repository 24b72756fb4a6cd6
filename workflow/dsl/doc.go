// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package dsl 提供 YAML 声明式流水线定义。

每个节点是 then、parallel、foreach 或 branch 之一，步骤名在 Registry 中
解析为已注册的 workflow.Step，最终通过 workflow.Builder 提交，因此 Schema
兼容性检查与代码构建的工作流完全一致。branch 的 when 字段是条件表达式，
支持比较、逻辑运算、点号字段访问、数组下标和 length，例如：

	nodes:
	  - then: frame-problem
	  - branch:
	      - when: "majorQuestions.length > 0"
	        step: output-needs
	      - step: identify-personas
*/
package dsl
