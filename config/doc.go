// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
包 config 提供 StoryFlow 的配置加载与流水线定义目录监听。

# 加载顺序

默认值 → YAML 文件 → 无前缀凭据变量（GITHUB_TOKEN、JIRA_EMAIL、JIRA_TOKEN、
JIRA_BASE_URL）→ STORYFLOW_ 前缀环境变量。嵌套字段按 env 标签拼接，
例如 STORYFLOW_WORKFLOW_SUSPEND_TTL=12h。

	cfg, err := config.NewLoader().
		WithConfigPath("storyflow.yaml").
		WithValidator((*config.Config).Validate).
		Load()

# 定义目录监听

FileWatcher 轮询 Workflow.DefinitionsDir 中的 YAML 文件，去抖后
把一批 FileEvent 交给回调，serve 命令据此重建工作流目录。
*/
package config
