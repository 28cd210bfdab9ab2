// 版权所有 2024 ChatGateway Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 ollama 实现面向 Ollama 守护进程的 HTTP 客户端。

Client 提供三个调用：ListModels（GET /api/tags）、Chat（单次
POST /api/chat）与 StreamChat（NDJSON 流式 POST /api/chat）。流式
响应按行解码为 ChatResponse，空行与无法解析的行被跳过；连接失败与
非 2xx 状态以 *ServiceError 直接返回，流建立后的传输中断以带 Err 的
StreamChunk 交付。
*/
package ollama
