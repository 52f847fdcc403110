package logger

import (
	"log/slog"
	"time"
)

// Error creates an attribute for a single error under the key "error".
// If err is nil, it returns an empty Attr.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.Any("error", err)
}

// Errors groups multiple non-nil errors under the key "errors", keyed by name.
func Errors(errs map[string]error) slog.Attr {
	as := make([]slog.Attr, 0, len(errs))
	for name, err := range errs {
		if err != nil {
			as = append(as, slog.String(name, err.Error()))
		}
	}
	if len(as) == 0 {
		return slog.Attr{}
	}
	return slog.Attr{Key: "errors", Value: slog.GroupValue(as...)}
}

// EventID records the provider event id (idempotency key).
func EventID(id string) slog.Attr {
	return slog.String("event_id", id)
}

// EventType records the billing event type.
func EventType(eventType string) slog.Attr {
	return slog.String("event_type", eventType)
}

// UserID records the subject user.
func UserID(id string) slog.Attr {
	return slog.String("user_id", id)
}

// Plan records a plan tier under key.
func Plan(key, tier string) slog.Attr {
	return slog.String(key, tier)
}

// Status records a record status.
func Status(status string) slog.Attr {
	return slog.String("status", status)
}

// RetryCount records the retry count under the key "retry_count".
func RetryCount(count int) slog.Attr {
	return slog.Int("retry_count", count)
}

// Duration records a duration under the key "duration".
func Duration(d time.Duration) slog.Attr {
	return slog.Duration("duration", d)
}

// Component records the component name under the key "component".
func Component(name string) slog.Attr {
	return slog.String("component", name)
}
