package storage

import "time"

// EventWriter is the interface for writing blink execution events.
// Write() must NEVER block the caller.
type EventWriter interface {
	Write(event *ExecutionEvent)
	Close()
}

// Event kinds.
const (
	KindResolve     = "resolve"
	KindInspect     = "inspect"
	KindTransaction = "transaction"
)

// ExecutionEvent records one blink evaluation or invocation and the trust
// verdict it ran under.
type ExecutionEvent struct {
	EventID        string
	ProjectID      string
	Timestamp      time.Time
	Kind           string
	Link           string // first LinkPreviewLength chars of the user-supplied link
	ActionURL      string
	ActionHost     string
	OriginURL      string
	OriginType     string
	ActionState    string
	OriginState    string
	Classification string
	Allowed        bool
	Outcome        string // allowed, blocked, unavailable, rejected or prepared
	ErrorMessage   string
	Account        string
	ComponentLabel string
	LatencyMs      float32
	Source         string // producer, "api" for the HTTP service
}

// LinkPreviewLength is the max chars stored for links and messages.
const LinkPreviewLength = 500

// Truncate returns the first N characters (runes) of s. It never splits a
// multi-byte UTF-8 character.
func Truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen])
}
