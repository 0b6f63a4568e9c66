// Package logging builds the structured slog logger used across bragerconnect.
//
// Every record carries service and version attributes. Components add their
// own with logger.With("component", "...").
package logging
