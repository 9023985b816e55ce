// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 gen 是签名驱动的生成编排器：把签名与输入渲染成提示词，调用模型，
从回复中抽取各输出字段并转换为强类型值，再执行语义断言；
类型或断言不满足时带着纠正反馈重新提示，直到成功或预算耗尽。

# 概述

每次 [Generator.Forward] 是一个独立的状态机：

	Rendering → AwaitingResponse → Extracting → Validating → Asserting → Done
	                                                 ↘            ↘
	                                                  Retrying → Rendering（附带反馈）
	                                                          ↘ Failed

签名不可变，可被多个并发 Forward 共享；每次 Forward 拥有自己的抽取状态，
不需要任何锁。

# 错误语义

  - [signature.InputError]：输入不合法，调用模型之前返回
  - [GenerationError]：重试预算耗尽，携带最后一次尝试的全部错误
  - [TransportError]：模型调用失败或超时，立即返回，生成循环不重试
  - ctx 取消：停止消费流，返回包装后的 ctx.Err()

# 流式与思维链

[WithStreaming] 以流式方式调用模型，字段一旦完成即通过 [WithFieldListener]
通知转换后的值；[WithEarlyAssertions] 在每个字段完成时评估断言，失败立即中止当前流。
[WithChainOfThought] 在输出前插入 reasoning 字段，其内容通过 [Result.Reasoning] 返回，
不参与断言，也不出现在 [Result.Values] 中。

# 使用方式

	g, err := gen.New(`"Extract meeting details" chatMessage -> subject, foundMeeting:boolean`,
		gen.WithMaxAttempts(3), gen.WithLogger(logger))
	g.AddAssert(assertion.Require([]string{"subject"}, func(o assertion.Output) bool {
		v, _ := o.Value("subject")
		return len(v.Str()) < 80
	}), "Subject must be shorter than 80 characters")
	res, err := g.Forward(ctx, provider, signature.Values{"chatMessage": signature.String(msg)})
*/
package gen
