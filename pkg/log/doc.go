// Package log provides pollbus's structured logging facade.
//
// # Overview
//
// The package exposes a small Logger interface with leveled methods and a
// Field type for structured context. Records are routed through a slog
// handler into a Formatter (JSON or text) and one or more Outputs.
//
// Quick start
//
//	l := log.NewLogger(
//	    log.WithLevel(log.InfoLevel),
//	    log.WithFormatter(&log.TextFormatter{}),
//	    log.WithOutput(log.NewConsoleOutput()),
//	)
//	l = l.With(log.Component("bus.listener"), log.Str("topic", "imbus"))
//	l.Info("listening", log.Int("waiters", 3))
//
// # Configuration
//
// ApplyConfig builds a logger from a declarative Config (level, format,
// outputs, redaction, sampling). The server uses it with POLLBUS_LOG_LEVEL
// and POLLBUS_LOG_FORMAT.
//
// # Interop
//
// RedirectStdLog sends the standard library logger (used by Pebble) through
// a Logger; ToStdLogger wraps one for APIs that want *log.Logger.
package log
