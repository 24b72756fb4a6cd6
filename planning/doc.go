// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package planning 提供故事地图相关的 Agent 目录与四个内置工作流。

# 工作流

  - story-mapping-workflow：从目标陈述出发，依次完成问题定义、用户画像、
    活动地图、故事拆分、优先级、缺口分析、发布切片、协作安排、排期与迭代。
    问题定义给出主要问题时，output-needs 步骤挂起运行，等待用户回答后恢复。
  - epic-mapping-workflow：并行生成八个计划章节并汇总为 Markdown 文档。
  - project-workflow：项目经理与工程负责人评审想法，开放问题逐个交给研究 Agent。
  - role-contributions-workflow：十个角色并行贡献，再基于彼此的回答修订。

# 目录

Catalog 持有全部 Agent、步骤注册表与已提交的工作流。内置工作流同时以 YAML
形式嵌入（见 Definitions），可通过 LoadDefinitions 从目录覆盖。

	cat, err := planning.NewCatalog(planning.Deps{Provider: provider, Tools: toolset})
	wf, err := cat.Workflow(planning.StoryMappingWorkflowID)
	res, err := executor.Run(ctx, wf, input, workflow.RuntimeContext{planning.RuntimeSessionKey: "s1"})
*/
package planning
