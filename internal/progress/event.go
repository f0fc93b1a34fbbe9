package progress

import (
	"time"

	"camarc/internal/camarc"
)

// EventKind identifies the stage of an archive job an Event reports.
type EventKind string

const (
	EventBegin    EventKind = "begin"
	EventProgress EventKind = "progress"
	EventFinish   EventKind = "finish"
)

// Event is the JSON message pushed to websocket clients.
type Event struct {
	Handle    camarc.ProgressHandle `json:"handle"`
	Kind      EventKind             `json:"kind"`
	Query     string                `json:"query,omitempty"`
	Completed int                   `json:"completed"`
	Total     int                   `json:"total"`
	Text      string                `json:"text"`
	Entries   int                   `json:"entries,omitempty"`
	Skipped   []string              `json:"skipped,omitempty"`
	Error     string                `json:"error,omitempty"`
	At        time.Time             `json:"at"`
}
