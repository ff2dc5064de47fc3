// Package otel publishes session manager metrics as OpenTelemetry observable
// instruments. Callers own the MeterProvider and pass a Meter in; one
// callback reads the manager snapshot per collection.
package otel
