// 版权所有 2024 ChatGateway Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 cache 提供基于 Redis 的可选缓存，目前用于缓存 /api/models 的
模型列表，减少对 Ollama /api/tags 的重复调用。

# 核心类型

  - Manager：封装 go-redis 客户端，提供带键前缀的 Get/Set、
    GetJSON/SetJSON 以及供就绪探针使用的 Ping。
  - Config：地址、密码、库编号、键前缀、模型列表 TTL 与连接池大小。

未命中返回 ErrCacheMiss，Close 之后的所有操作返回 ErrClosed。
*/
package cache
