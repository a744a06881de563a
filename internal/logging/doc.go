// Package logging builds slog loggers with console and JSON handlers and
// defines the standardized attribute keys used across the service. Components
// derive their loggers through NewComponentLogger so every line carries a
// component field the console handler folds into the message prefix.
package logging
