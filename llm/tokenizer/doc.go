// Package tokenizer 提供统一的 Token 计数与截断接口，
// 支持 tiktoken 精确计数与 CJK 感知的估算器，用于工作记忆的 Token 预算管理。
package tokenizer
