// Package prometheus exports engine counters through
// github.com/prometheus/client_golang.
//
// [NewCollector] returns a prometheus.Collector that reads
// [authsdk.Engine.MetricsSnapshot] on every scrape. Register it with your own
// registry, or mount [Handler] which serves it from a private one. Counter
// names are authsdk_*_total; the single histogram is
// authsdk_sign_in_up_latency_seconds.
//
// # What this package must NOT do
//
//   - Register into prometheus.DefaultRegisterer.
//   - Mutate engine state.
package prometheus
