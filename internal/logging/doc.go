// Package logging configures the process-wide slog setup: per-module
// loggers with runtime-adjustable levels, a ring buffer retaining recent
// entries for diagnostics, and journald output when running under systemd.
package logging
