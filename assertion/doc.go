// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 assertion 提供生成结果的语义断言引擎。

# 概述

类型校验只保证每个输出字段"长得对"，断言负责检查字段之间、
字段与业务规则之间的语义约束。每条规则是一个谓词，返回三种结论之一：

  - [Pass]：规则满足
  - [Fail]：规则不满足，规则消息作为下一次尝试的纠正反馈
  - [Indeterminate]：数据不足（例如流式生成中依赖的字段尚未完成），暂按通过处理

# 核心模型

  - [Engine]：有序规则列表，[Engine.Check] 遇到第一条失败规则即短路
  - [Output]：对已转换输出值的只读视图
  - [Require]：在所需字段全部出现之前返回 Indeterminate 的谓词构造器
  - [Failure]：断言失败，错误码 ASSERTION_FAILED，可在生成循环内重试
*/
package assertion
