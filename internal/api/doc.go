// Package api 暴露任务提交、任务查询与频道发布的 REST 接口，以及
// /health 与 /metrics。
package api
