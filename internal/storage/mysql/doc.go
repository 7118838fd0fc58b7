// Package mysql 提供 MySQL 连接管理与内嵌 SQL 迁移。文档存储与任务存储共用
// 同一个 *sql.DB，由 internal/app 在启动时创建并注入。
package mysql
