/*
包 ratelimit 提供按客户端身份（identity）划分的令牌桶准入控制。

# 概述

每个 identity 拥有一个 golang.org/x/time/rate 令牌桶（容量 burst，
每秒补充 rate 个令牌）。所有桶按 identity 的 xxhash 分布到固定数量的
分片中，每个分片是一个有界 LRU，长期空闲的 identity 会被淘汰，
因此身份表的内存占用有上限。

# 核心类型

  - Limiter：Admit / Decide 为非阻塞调用，可被任意数量的 goroutine 并发使用
  - Decision：一次准入判断的结果，含剩余令牌与建议的 Retry-After
  - ClientIdentity：从 X-Forwarded-For、对端地址推导 identity，
    无法识别的客户端共享 AnonymousIdentity
*/
package ratelimit
