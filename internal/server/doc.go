/*
Package server 管理网关的 HTTP 服务器生命周期。

Manager 封装 net/http.Server，负责监听、后台服务、异步错误传播与优雅关闭。
网关进程持有两个 Manager：API 服务器与 Prometheus 指标服务器，二者由
errgroup 通过 Run 统一驱动。

Shutdown 先在 ShutdownTimeout 内排空请求，随后取消所有请求共享的基础
context，使仍在进行的 SSE 流与 WebSocket 会话退出。
*/
package server
