// Package otel observes authcore engine metrics through an OpenTelemetry
// meter.
//
// [New] registers an Int64ObservableCounter per engine counter. Latency
// histograms become a cumulative bucket gauge carrying an "le" attribute
// plus a sample counter, so the series line up with the Prometheus
// exporter's.
//
// The caller owns the MeterProvider and its readers; authcore-server wires
// a periodic reader when metrics.exporter is "otel".
package otel
