// Package prometheus exposes arkana engine metrics through
// prometheus/client_golang.
//
// [Collector] implements prometheus.Collector over
// [arkana.Engine.MetricsSnapshot]. Counter names are prefixed
// arkana_*_total; the single histogram is arkana_validate_latency_seconds.
// Register it with any registry, or use [Collector.Handler] for a private
// one.
//
// # What this package must NOT do
//
//   - Register into the global default registry on its own.
//   - Mutate engine state.
package prometheus
