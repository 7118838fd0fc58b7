// Package config 负责加载 Fluxo 的 YAML 配置。
//
// 敏感信息与连接地址可以通过 FLUXO_* 环境变量覆盖，未填写的字段由
// applyDefaults 补齐，枚举类字段在 Validate 中统一校验。
package config
