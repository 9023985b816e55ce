// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
Package testutil 提供 sigflow 测试的共享工具和辅助函数。

# 核心能力

  - 上下文辅助: TestContext / TestContextWithTimeout，自动注册 Cleanup 防止泄漏
  - 断言工具: AssertValues 按普通 Go 值比较签名输出
  - 流式辅助: CollectStreamContent / SendChunksToChannel
  - 请求辅助: SystemPrompt / UserPrompt 取出渲染后的消息

# 子包

  - testutil/mocks: MockProvider，按脚本返回响应、流式分块、注入错误并记录调用
  - testutil/fixtures: 会议抽取签名、输入与标准回复样例
*/
package testutil
