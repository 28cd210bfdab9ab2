// Copyright (c) ChatGateway Authors.
// Licensed under the MIT License.

/*
Package handlers 提供 ChatGateway HTTP 与 WebSocket 端点的请求处理器。

# 概述

所有 Handler 都是标准 net/http 处理函数，只负责解码、校验与线上
编码；准入、后端调用与事件翻译统一交给 session.Translator。

# 核心类型

  - ChatHandler      — POST /api/chat，单次 JSON 响应或 SSE 事件流
  - WebSocketHandler — /ws/chat，一条连接上顺序执行多轮对话
  - ModelsHandler    — GET /api/models，可选 Redis 缓存
  - MetricsHandler   — GET /api/metrics，滚动窗口快照
  - HealthHandler    — /healthz、/readyz、/version
  - Response         — 错误响应信封（success + error + timestamp + request_id）

# 错误处理

  - 校验失败返回 400 与字段级 details，且不消耗限流令牌
  - 限流返回 429 并带 Retry-After；WebSocket 上以 1008 关闭连接
  - 上游 4xx 原样透传，5xx 与连接失败映射为 502
*/
package handlers
