// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 llm 定义生成引擎消费的模型调用能力。

# 概述

引擎只需要一种外部能力：把渲染好的请求变成模型文本，要么一次性返回，
要么按到达顺序逐块返回。本包把这一能力抽象为 [Model]，并提供
最小的请求/响应模型，使引擎可以对接任意模型服务而不关心其传输细节。

# 核心接口

  - [Model]：Completion / Stream
  - [Provider]：带名称的 Model，可登记到 [ProviderRegistry]
  - [Error]：传输层错误，携带 [ErrorCode] 与可重试标记

# 适配器

  - [TextModel]：从 "请求 -> 文本" 函数构造 Provider
  - [NewFuncModel]：从 CompletionFunc / StreamFunc 构造 Provider
  - [StreamText]：把文本按块回放为流，用于测试与离线回放

传输重试、超时与限流属于 Provider 侧职责，见 llm/middleware。
*/
package llm
