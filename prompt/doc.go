// Copyright 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 prompt 把 Signature 与类型化输入渲染为模型请求。

# 概述

渲染结果分为两部分：

  - 系统指令：任务描述、输入字段与输出字段列表（含类型提示与 class 标签），
    以及显式的输出格式，每个输出字段一行，以 "标题:" 开头，按声明顺序排列。
    重试时在末尾追加修正说明，原有指令保持不变。
  - 用户内容：每个已提供的输入按 "标题: 值" 序列化。日期为 YYYY-MM-DD，
    日期时间为 YYYY-MM-DD HH:mm:ss 加时区标签，数组为 "- 项" 列表。

输出格式中的标题即 extract 包识别字段边界时使用的标记，两者必须一致。
渲染从不修改 Signature 或输入。
*/
package prompt
