// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 middleware 提供模型调用侧的中间件链，在请求到达模型之前和响应返回之后
插入可组合的横切逻辑。

# 概述

传输失败（超时、限流、上游错误）是模型能力提供方的职责：生成引擎遇到传输错误
立即终止本次尝试并上报，不会把它当作校验失败重试。需要传输层重试时，
在 Provider 外包一层 [TransportRetry]。

# 核心类型

  - Handler / StreamHandler：同步与流式处理函数
  - Middleware：func(llm.Model) llm.Model
  - Chain：中间件链，支持 Use / UseFront / Then
  - Wrap：对 Provider 应用中间件并保留名称

# 内置中间件

  - Logging：zap 结构化日志，记录 trace_id、模型、耗时
  - Timeout：超时以 llm.ErrUpstreamTimeout 报告，覆盖整个流
  - RateLimit / RateLimitWith：令牌桶限流（golang.org/x/time/rate）
  - TransportRetry：指数退避重试可重试的传输错误（llm/retry）
  - Metrics：调用耗时与成功率
  - Recovery：panic 转为错误
*/
package middleware
