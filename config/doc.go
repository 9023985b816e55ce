// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 config 提供 sigflow 的配置加载。

# 概述

配置按 默认值 → YAML 文件 → 环境变量 的顺序叠加，环境变量键名由
前缀与各级 env 标签拼接而成，例如 SIGFLOW_ENGINE_MAX_ATTEMPTS、
SIGFLOW_CACHE_REDIS_ADDR。加载完成后执行 [Config.Validate]。

# 配置段

  - engine: 尝试预算、思维链、流式、枚举匹配策略、显示时区
  - tokenizer: 渲染后提示词的 Token 上限
  - cache: 结果缓存（本地 LRU + 可选 Redis）
  - attempt_log: 每次尝试写入数据库（sqlite, postgres, mysql）
  - provider: 模型调用侧超时、限流、传输层重试
  - log / telemetry / metrics: 日志、OpenTelemetry、Prometheus

[LogConfig.BuildLogger] 根据 log 段构建 zap.Logger。
*/
package config
