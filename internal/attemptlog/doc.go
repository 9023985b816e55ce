// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 attemptlog 把生成引擎的每一次尝试写入数据库，便于事后审计重试反馈。

# 概述

重试反馈只在引擎内部使用，不会出现在返回结果中。[Store] 实现
gen.AttemptRecorder，把尝试编号、结果、反馈与原始响应按 trace ID 落库。
底层使用 GORM，支持 sqlite（glebarez 纯 Go 驱动）、postgres 与 mysql。

# 核心类型

  - Record：尝试记录表模型（sigflow_attempts）。
  - Store：连接池管理 + 写入/查询，带可重试错误的退避重写。
  - Open：按 config.DatabaseConfig 打开 GORM 连接。
*/
package attemptlog
