// Package telemetry groups the router's observability concerns.
//
//   - logging: structured slog setup with a configurable level
//   - metrics: the process-wide Prometheus registry and every series
//     the router exposes through /metrics
//
// Metric series names are part of the external contract; see the
// metrics package for the full list.
package telemetry
