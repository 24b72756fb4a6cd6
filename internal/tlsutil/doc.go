// Package tlsutil 提供集中式 TLS 配置，为 LLM 与工具的出站 HTTP 客户端
// 以及 Redis 连接提供加固设置（TLS 1.2+，仅 AEAD 密码套件）。
// 出站客户端最多跟随 MaxRedirects 次重定向，且拒绝 https 到 http 的降级。
package tlsutil
