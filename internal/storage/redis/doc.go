// Package redis 负责创建共享的 Redis 客户端。消息总线、任务队列与文档缓存
// 复用同一个连接池。
package redis
