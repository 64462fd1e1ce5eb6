// Package middleware provides observability middleware for the
// RemBraille dispatch pipeline.
//
// Middleware wraps the per-message handler chain of a
// transport.Dispatcher:
//
//	d := transport.NewDispatcher(logger)
//	d.Use(middleware.Prometheus())
//	d.Use(middleware.OpenTelemetry())
//
// Prometheus collects counters and latency histograms for every
// dispatched message; OpenTelemetry opens a span per message. Both use
// the process-global registries and providers, so configure those in
// main() before wiring the middleware.
package middleware
