// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 metrics 提供基于 Prometheus 的指标采集能力，覆盖
生成循环、模型调用、缓存与数据库四个维度。

# 概述

本包通过 Collector 统一注册和记录 Prometheus 指标，使用 promauto
自动注册机制，避免手动管理 Registry。所有指标按 namespace 隔离。
Collector 同时满足 gen.Metrics、signature.CacheMetrics、
middleware.MetricsCollector 与 attemptlog 的查询耗时记录需求。

# 主要能力

  - 生成指标：按结果分组的请求数与耗时、每次生成的尝试次数、
    按原因分组的尝试失败（validation/missing/assertion）、字段错误、状态转换。
  - 模型调用指标：按 model/status 分组的调用次数与耗时。
  - 缓存指标：签名缓存与结果缓存的命中/未命中，按 cache_type 分组。
  - 数据库指标：尝试日志写入与查询耗时。
*/
package metrics
