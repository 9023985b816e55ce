// Copyright 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 signature 提供 Prompt Signature 的类型系统、DSL 解析与值转换能力。

# 概述

Signature 用一行紧凑的 DSL 声明一次 LLM 调用的输入与输出字段：

	chatMessage, currentDate:datetime -> subject, foundMeeting:boolean, datesMentioned:datetime[]

本包把 DSL 解析为不可变的 Signature，并为每种字段类型提供从模型原始文本
到语义值的转换（Coerce）与校验规则。解析是纯函数，结果可按 DSL 文本缓存，
并在任意数量的并发生成请求之间共享。

# 核心类型

  - FieldType：封闭的字段类型集合：string、number、boolean、date、datetime、json、class
  - Field：单个命名、有类型的字段（可标记为数组或可选）
  - Signature：有序的输入字段与输出字段，加可选的任务描述
  - Value / Values：按 Kind 标记的值联合体，不使用运行时反射
  - Cache：按 DSL 文本缓存解析结果的 LRU，并发解析同一文本只执行一次

# 错误

  - ParseError / UnknownTypeError / DuplicateFieldError：解析期错误，不可重试
  - ValidationError / MissingFieldError：输出字段的校验错误，由生成循环重试
  - InputError：调用方提供的输入不符合 Signature

# 典型用法

	sig, err := signature.Parse(`question -> answer, confidence:number`)
	v, verr := signature.Coerce(sig.Outputs()[1], "0.9", signature.CoerceOptions{})
*/
package signature
