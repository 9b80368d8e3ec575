// Package observability provides structured logging, metrics and tracing for
// mission execution.
//
// Features:
//   - Structured logging via slog (Go stdlib)
//   - Metrics via OpenTelemetry
//   - Tracing via OpenTelemetry
//
// All features are opt-in and have no-op implementations when disabled.
// Logging helpers accept a nil logger and do nothing.
package observability
