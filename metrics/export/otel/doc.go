// Package otel binds engine counters to OpenTelemetry metric instruments.
//
// [NewExporter] registers an Int64ObservableCounter per counter. Each
// histogram becomes a _bucket gauge with one point per le attribute and a
// _count gauge. One callback reads
// [authsdk.Engine.MetricsSnapshot] on each collection cycle.
//
// # What this package must NOT do
//
//   - Own the MeterProvider. Callers supply the Meter.
//   - Mutate engine state.
package otel
