// Package logging builds the slog loggers used across the engine and CLI.
// It provides console and JSON handlers, file fan-out, and typed attribute
// helpers so call sites stay consistent.
package logging
