// 版权所有 2024 ChatGateway Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 session 实现与传输无关的对话轮次翻译器。

Translator 先通过 Admitter 做准入判定，再调用 Backend 的流式接口，
把后端分片翻译为统一的事件协议：token、done 与 error。每个被准入且
客户端仍在线的轮次恰好产生一个终止事件；正常结束与静默截断都会向
Recorder 写入一条样本，失败与超时不写入。

# 事件格式

	{"type":"token","token":"..."}
	{"type":"done","content":"...","usage":{...},"latency_ms":N}
	{"type":"error","message":"...","details":{...},"code":"TIMEOUT"}

SSE 与 WebSocket 适配器只负责把事件逐个写到线上。
*/
package session
