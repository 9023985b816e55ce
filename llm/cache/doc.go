// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 cache 提供生成结果的多级缓存，通过本地 LRU 与 Redis 协同，
让相同签名、相同输入的请求直接复用上一次成功的模型回复。

# 概述

缓存的是成功尝试的原始回复文本而不是转换后的值。命中后，
生成器重新执行抽取、转换与断言，因此缓存内容与当前的类型规则
始终一致；重新校验失败的条目按未命中处理。

# 核心类型

  - [ResultCache]：多级缓存实现，本地 LRU 作为 L1、Redis 作为 L2，L2 命中回填 L1
  - [LRUCache]：基于 golang-lru 的本地一级缓存，读取时检查 TTL
  - [Entry]：缓存条目，保存回复文本与命中统计
  - [RequestKey]：由首次渲染的请求与附加参数计算 SHA-256 缓存键

# 使用方式

	rc := cache.NewResultCache(redisClient, cache.DefaultConfig(), logger)
	key := cache.RequestKey(chatReq, "class_match=fold")
	entry, err := rc.Get(ctx, key)
*/
package cache
