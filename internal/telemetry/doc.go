// Package telemetry 初始化 OpenTelemetry SDK，为网关的 HTTP 请求与
// 对话轮次 span 提供 OTLP gRPC 导出。遥测关闭时保持 noop provider，
// 不连接任何外部服务。
package telemetry
