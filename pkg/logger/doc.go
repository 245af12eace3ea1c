// Package logger builds *slog.Logger instances for opshub services and keeps
// attribute naming consistent across packages.
//
// New applies functional options (format, level, static attributes, context
// extractors) and wraps the resulting slog.Handler with a decorator that pulls
// request-scoped values, such as the request id, out of the context on every
// log call.
//
// # Usage
//
//	log := logger.New(
//		logger.WithEnvironment(cfg.Env, "opshub"),
//		logger.WithContextExtractors(requestid.LoggerExtractor()),
//	)
//	log.InfoContext(ctx, "notification raised",
//		logger.NotificationID(n.ID),
//		logger.TypeCode(n.TypeCode),
//	)
//
// Attribute helpers return an empty slog.Attr for nil input, which slog drops,
// so callers can pass optional values without branching.
package logger
