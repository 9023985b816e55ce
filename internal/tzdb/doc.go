// Copyright 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 tzdb 提供只读的时区解析能力，把模型输出中的时区标识解析为 *time.Location。

# 概述

模型在输出 datetime 字段时可能给出 IANA 名称（America/New_York）、
常见缩写（EST、PST、CET）或数值偏移（+05:30、UTC-8）。DB 将三类写法
统一解析，并在进程启动时构建一次，此后不再修改，可被任意 goroutine 并发读取。

# 核心类型

  - DB：时区数据库，Resolve 解析单个时区标识。
  - Default：进程级共享实例（sync.Once 初始化）。

IANA 数据通过 time/tzdata 嵌入二进制，不依赖宿主机的 zoneinfo。
*/
package tzdb
