// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package main 提供 sigflow 命令行程序入口。

# 概述

cmd/sigflow 是签名引擎的离线工具：解析签名 DSL、渲染提示词、
从模型回复中抽取类型化字段，以及针对脚本化的对话记录运行完整的
生成循环。配置、日志、指标、遥测、尝试日志与结果缓存的装配方式
与在线服务一致，只是模型换成了回放 YAML 记录的 Provider。

# 子命令

  - parse：输出签名的 YAML 结构（标题、类型、选项与规范 DSL）
  - render：输出 system/user 提示词，可附加 --feedback 纠错行
  - extract：抽取并转换回复，--stream-chunk 模拟分块到达
  - run：针对 --transcript 回放运行 Forward，输出结果或错误
  - migrate：用内嵌 SQL 迁移管理 sigflow_attempts 表，配合 attempt_log.auto_migrate=false
  - version：构建信息，Version、BuildTime、GitCommit 通过 ldflags 注入

# 组件装配

run 命令按配置依次初始化：zap 日志、Prometheus 指标收集器、
OpenTelemetry、GORM 尝试日志、本地 LRU + Redis 结果缓存，
并为 Provider 包装 Recovery、Logging、Metrics、RateLimit、
TransportRetry、Timeout 中间件。可选组件初始化失败时降级运行。
*/
package main
