// Package reporter models the source service's constructor-supplied
// error-reporting callback (spec.md §9 "Callback 'message delegate'") as a
// small interface, so callers can inject a capturing stub in tests instead
// of a concrete logger.
package reporter

import "log/slog"

// Reporter receives a named event and a human-readable detail string.
type Reporter interface {
	Report(event, detail string)
}

// Slog adapts a *slog.Logger to Reporter, logging at Info level.
type Slog struct {
	Logger *slog.Logger
}

// NewSlog wraps logger (or the default logger, if nil) as a Reporter.
func NewSlog(logger *slog.Logger) Slog {
	if logger == nil {
		logger = slog.Default()
	}
	return Slog{Logger: logger}
}

func (s Slog) Report(event, detail string) {
	s.Logger.Info(detail, "event", event)
}
