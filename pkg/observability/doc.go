// Package observability provides logging, metrics, health checks, tracing
// and graceful shutdown for the betterorg services.
//
// Logging is structured JSON on top of log/slog. Metrics are Prometheus
// collectors registered on a private registry and exposed via promhttp on
// the health port. Tracing is an optional OTLP/gRPC tracer provider that
// is disabled unless configured.
//
// The HealthChecker distinguishes liveness (process up) from readiness
// (dependencies reachable): Postgres down marks the service unhealthy,
// Redis down only degrades it because sessions fail closed.
package observability
