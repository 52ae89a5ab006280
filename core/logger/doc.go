// Package logger builds slog loggers and provides attribute helpers used across
// the session framework.
//
// # Usage
//
//	log := logger.New(
//		logger.WithProduction("sessiond"),
//		logger.WithContextValue("request_id", requestIDKey{}),
//	)
//
//	log.InfoContext(ctx, "session created",
//		logger.Component("repository"),
//		logger.SessionID(id),
//	)
//
// Development loggers write text at debug level with source locations;
// production loggers write JSON at info level. Both tag records with the
// service name.
//
// # Attribute Helpers
//
// Helpers such as Error, SessionID and Principal return an empty slog.Attr for
// zero input, so callers can pass them unconditionally:
//
//	log.Error("save failed", logger.Error(err), logger.SessionID(s.ID()))
//
// Use Nop in tests and as the default of optional logger parameters.
package logger
