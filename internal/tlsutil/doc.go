// Package tlsutil 提供网关出站连接的 TLS 设置：访问 Ollama 的 HTTP 传输层与可选的 Redis TLS 连接（TLS 1.2+，仅 AEAD 套件）。
package tlsutil
