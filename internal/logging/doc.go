// Package logging builds the slog loggers used across the daemon and CLI and
// defines the standard attribute vocabulary for pipeline events.
package logging
