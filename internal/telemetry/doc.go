// Package telemetry 封装 OpenTelemetry SDK 初始化，为 StoryFlow 提供
// TracerProvider 与 MeterProvider。Providers.Tracer 交给工作流执行器，
// 每个运行与步骤各对应一个 span。禁用时使用 noop 实现，不连接任何外部服务。
package telemetry
