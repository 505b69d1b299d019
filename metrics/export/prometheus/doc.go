// Package prometheus exposes engine counters and the backend latency histogram
// as a client_golang [prometheus.Collector].
//
// Counter names are prefixed farmauth_*_total; the single histogram is
// farmauth_backend_latency_seconds.
//
// # What this package must NOT do
//
//   - Register in the global Prometheus registry. Callers register the
//     collector or mount [Collector.Handler].
//   - Mutate engine state.
package prometheus
