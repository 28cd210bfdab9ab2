// Package config 提供 ChatGateway 的配置加载与校验。
//
// 配置按 默认值 → YAML 文件 → 环境变量 的顺序叠加。环境变量名由
// 结构体的 env 标签推导，前缀为 CHATGATEWAY，例如
// CHATGATEWAY_RATE_LIMIT_RPS、CHATGATEWAY_LOG_FILE_PATH。
// Config.Validate 使用 ozzo-validation 校验端口、限流参数与日志设置。
package config
