// 版权所有 2024 ChatGateway Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 metrics 提供网关的两类指标：进程内滚动窗口聚合（供 /api/metrics
JSON 接口使用）与 Prometheus 导出（供独立 metrics 端口抓取）。

# 核心类型

  - Aggregator：累计请求数与 prompt/completion Token 总数，外加一个
    固定容量的延迟环形缓冲区。Snapshot 在锁内复制窗口，在锁外排序并
    用线性插值计算 p50/p95，空窗口返回 0。
  - Collector：通过 promauto 注册 HTTP、对话轮次、Token、限流判定、
    WebSocket 连接数与缓存命中等 Prometheus 指标，按 namespace 隔离。
*/
package metrics
