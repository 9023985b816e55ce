// Package telemetry 封装 OpenTelemetry SDK 初始化，
// 为 sigflow 生成引擎提供 TracerProvider 与 MeterProvider。
// 遥测关闭时返回 noop tracer，不连接任何外部服务。
package telemetry
