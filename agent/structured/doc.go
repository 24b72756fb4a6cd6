// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
# 概述

包 structured 提供 JSON Schema 的建模、反射生成、校验与兼容性检查。

工作流中每个步骤的输入与输出都由 JSONSchema 描述：步骤执行前校验输入，
执行后校验输出；构建工作流时通过 Compatible 检查相邻步骤的 Schema
是否可以衔接。Agent 也使用本包约束模型输出格式。

# 主要类型

  - JSONSchema：Schema 定义，支持 object/array/record/enum/anyOf
  - SchemaGenerator / SchemaFor[T]：通过反射从 Go 类型生成 Schema
  - DefaultValidator：字段级校验，非必填字段为 null 时视为缺省
  - Compatible：生产者与消费者 Schema 的兼容性检查
  - ParseResult[T] / ParseError / ValidationErrors：解析与校验结果

# 典型用法

	schema := structured.MustSchemaFor[Persona]()
	if err := structured.NewValidator().Validate(data, schema); err != nil {
		// 处理校验错误
	}
	pr := structured.Parse[Persona](reply, schema, nil)
*/
package structured
