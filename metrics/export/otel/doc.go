// Package otel publishes engine metrics as OpenTelemetry asynchronous
// instruments.
//
// Related counters are grouped into one instrument per family with an
// attribute naming the series, e.g. farmauth.guard.decisions{decision=denied}.
// Backend latency is a cumulative gauge keyed by the "le" bucket bound plus a
// count gauge. One callback reads [farmauth.Engine.MetricsSnapshot] per
// collection cycle.
//
// # What this package must NOT do
//
//   - Own the MeterProvider. Callers supply the Meter.
//   - Mutate engine state.
package otel
