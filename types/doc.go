// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package types 提供 sigflow 引擎的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 signature、gen、llm
等上层模块提供统一的错误码与 Context 传播契约，以避免循环依赖。

# 核心类型

  - ErrorCode / CodedError：结构化错误码体系，区分解析期错误、
    可重试的尝试期错误（校验、缺失字段、断言失败）与终止性错误（传输、超时）
  - Error：通用结构化错误，含 Retryable 标记与 Cause 链

# 主要能力

  - 错误工具链：GetErrorCode / IsRetryable / IsErrorCode
  - Context 传播：WithTraceID / WithAttempt / WithSignature，由 gen 写入，
    llm/middleware.Logging 读出并附加到模型调用日志
*/
package types
