// Package observability provides metrics and structured logging for the
// agent harness daemon.
//
// # Metrics
//
// Metrics are implemented with the Prometheus client library and track:
//   - Run and session turn outcomes
//   - LLM request latency and token usage
//   - Tool execution counts and latencies
//   - Human approval decisions
//   - HTTP API request latency
//
// Create a Metrics once at startup and share it:
//
//	metrics := observability.NewMetrics()
//	metrics.RecordToolExecution("shell", "success", 0.42)
//
// The values surface on the daemon's /metrics endpoint via promhttp.
//
// # Logging
//
// Logging builds on log/slog. NewLogger returns a logger whose messages
// and string attributes are scrubbed of API keys, bearer tokens, and
// JWTs before they reach the output stream:
//
//	logger := observability.NewLogger(observability.LogConfig{
//		Level:  "info",
//		Format: "json",
//	})
//	logger.Info("turn started", "session_id", sessionID)
package observability
