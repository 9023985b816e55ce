/*
包 extract 从模型的原始文本（整块或流式增量）中按输出字段切分原始值。

字段边界由渲染器声明的标记确定：一行以 "字段标题:" 开头（允许前导空白与 markdown 粗体 **），
标题匹配不区分大小写，只考虑当前字段之后声明的字段。被跳过的字段保持 Pending。

抽取永不失败：缺失与格式问题都留给校验阶段处理。增量按到达顺序逐行处理，
任意切块方式得到的最终状态与整块输入相同；字段完成通知按声明顺序同步触发，
已完成的字段不会被修改。
*/
package extract
