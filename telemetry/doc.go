// Package telemetry sets up structured logging and the Prometheus metrics
// of the worker.
//
//   - logging.go: slog setup, verbosity levels and logger context helpers
//   - metrics.go: session, task, load and save metrics
package telemetry
