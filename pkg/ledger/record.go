package ledger

import (
	"bytes"
	"strings"
	"time"
	"unicode/utf8"
)

// Status of a ledger record.
type Status string

const (
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// allowed lists the status changes a record may go through.
// completed is terminal; failed re-enters processing only through a retry.
var allowed = map[Status][]Status{
	StatusProcessing: {StatusCompleted, StatusFailed},
	StatusFailed:     {StatusProcessing},
}

// CanTransition reports whether a record may move from one status to another.
func CanTransition(from, to Status) bool {
	for _, s := range allowed[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Record is one claimed event.
type Record struct {
	EventID      string
	EventType    string
	UserID       string
	Status       Status
	RetryCount   int
	ErrorMessage string
	Payload      []byte
	ClaimedAt    time.Time
	CompletedAt  *time.Time
	UpdatedAt    time.Time
}

// Claim is the data written by the first delivery of an event.
type Claim struct {
	EventID   string
	EventType string
	UserID    string
	Payload   []byte
}

const maxErrorMessageLen = 1024

// truncate makes msg storable as TEXT: NUL bytes are dropped, invalid UTF-8
// is replaced and the result is cut to maxErrorMessageLen on a rune boundary.
func truncate(msg string) string {
	msg = strings.ToValidUTF8(strings.ReplaceAll(msg, "\x00", ""), "\uFFFD")
	if len(msg) <= maxErrorMessageLen {
		return msg
	}
	cut := maxErrorMessageLen
	for cut > 0 && !utf8.RuneStart(msg[cut]) {
		cut--
	}
	return msg[:cut]
}

var (
	escapedNUL         = []byte(`\u0000`)
	escapedReplacement = []byte(`\ufffd`)
)

// sanitizePayload rewrites the JSON escape \u0000, which JSONB rejects, to
// the replacement character. Escaped backslashes are skipped so a literal
// "\\u0000" in a string value is left alone.
func sanitizePayload(p []byte) []byte {
	if !bytes.Contains(p, escapedNUL) {
		return p
	}
	out := make([]byte, 0, len(p))
	for i := 0; i < len(p); i++ {
		if p[i] != '\\' || i+1 >= len(p) {
			out = append(out, p[i])
			continue
		}
		if bytes.HasPrefix(p[i:], escapedNUL) {
			out = append(out, escapedReplacement...)
			i += len(escapedNUL) - 1
			continue
		}
		out = append(out, p[i], p[i+1])
		i++
	}
	return out
}
