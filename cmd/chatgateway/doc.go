// Copyright (c) ChatGateway Authors.
// Licensed under the MIT License.

/*
Package main 提供 ChatGateway 服务端程序入口。

# 概述

cmd/chatgateway 是网关的可执行入口，提供 serve、version、health 子命令。
程序加载 YAML 配置与 CHATGATEWAY_* 环境变量，构建 zap 日志，
并在 API 端口与 Metrics 端口上运行两个 HTTP 服务。

# 核心类型

  - Server         — 持有 Ollama 客户端、限流器、指标聚合器与对话翻译器
  - Middleware     — HTTP 中间件函数签名 func(http.Handler) http.Handler
  - statusRecorder — 捕获状态码与响应大小，透传 Flush / Hijack

# 中间件链

Recovery → RequestID → OTelTracing → MetricsMiddleware → RequestLogger →
SecurityHeaders → CORS → APIKeyAuth。APIKeyAuth 在 WebSocket 升级前执行，
探针端点（/healthz、/readyz、/version）免鉴权。

# 关闭

收到 SIGINT/SIGTERM 后 errgroup 依次关闭两个服务，取消残留的 SSE 与
WebSocket 连接，最后关闭 Redis 缓存与遥测导出器。
*/
package main
