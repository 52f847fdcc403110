// Package logger builds the service's *slog.Logger.
//
// New applies functional options on top of production defaults (JSON, INFO)
// and wraps the chosen handler so attributes attached with ContextWith, plus
// values picked out by registered extractors (request ids), end up on every
// record logged with that context.
//
// Attribute constructors in attr.go keep key names consistent across the
// pipeline: event_id, event_type, user_id, plan, retry_count and so on.
//
//	log := logger.New(logger.WithEnvironment("production", "billingsync"))
//	log.LogAttrs(ctx, slog.LevelInfo, "event processed",
//		logger.EventID(ev.ID),
//		logger.EventType(string(ev.Type)),
//	)
package logger
