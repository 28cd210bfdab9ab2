// Copyright (c) ChatGateway Authors.
// Licensed under the MIT License.

/*
Package types 提供 chatgateway 的全局共享错误类型。

# 概述

types 是最底层的公共包，不依赖任何内部包。网关各层（ollama 客户端、
session 转换器、HTTP/WebSocket handler）通过统一的 Error / ErrorCode
传递失败语义，handler 再据此映射 HTTP 状态码或 WebSocket 错误帧。

# 核心类型

  - ErrorCode — 错误码（RATE_LIMITED、UPSTREAM_ERROR、UPSTREAM_REJECTED 等）
  - Error     — 结构化错误，含 HTTP 状态码、Retryable 标记与 Details

# 主要能力

  - 构建器：WithCause / WithHTTPStatus / WithRetryable / WithDetails
  - 错误工具链：AsError / GetErrorCode / IsRetryable
  - 状态码映射：StatusForCode / (*Error).Status
*/
package types
