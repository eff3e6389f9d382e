// Package logging assembles structured slog loggers and formatting helpers used
// across audibridge.
//
// It owns the configurable console/JSON handlers, centralizes level and output
// plumbing, and exposes context-aware helpers so pipeline and auth code can
// tag log lines with job IDs, ASINs, stages, and correlation IDs. Credential
// fields are redacted by every handler. The package also provides a no-op
// logger for tests and wiring code that cannot fail.
package logging
