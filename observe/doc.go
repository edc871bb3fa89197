// Package observe provides observability primitives for the call cache.
//
// It is a pure instrumentation library: a JSON structured logger, OpenTelemetry
// metrics for lookups, computations, refreshes and sweeps, and tracing spans
// around compute functions. Exporter setup lives in the exporters subpackage.
package observe
