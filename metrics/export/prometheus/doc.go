// Package prometheus exposes authcore engine metrics as a Prometheus
// collector.
//
// [NewPrometheusExporter] wraps an [authcore.Engine]. The exporter is a
// [prometheus.Collector] that reads MetricsSnapshot on every scrape, and
// Handler serves it from a private registry. Counter names are
// authcore_*_total; the single histogram is authcore_validate_latency_seconds.
//
// # What this package must NOT do
//
//   - Register into the global Prometheus registry. Callers mount Handler or
//     register the collector themselves.
//   - Mutate engine state.
package prometheus
