// Package logging provides structured logging using uber/zap.
//
// This package offers production-ready logging with two modes:
//   - Production: JSON output for machine parsing
//   - Development: Colored console output for human readability
//
// All output goes to stderr: script-spawned child processes share the
// host's stdout, which therefore has to stay clean.
//
// Every runtime subsystem receives a named child logger so operators
// can raise or filter one subsystem at a time:
//
//	logger := logging.NewDefault()
//	events := logger.Named("events")
//	events.Info("handler registered", zap.String("event", "window:focus"))
package logging
