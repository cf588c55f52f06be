// Package events publishes request outcome events fed by the dispatcher's
// success and failure hooks.
package events

import (
	"time"

	"github.com/morezero/serveapi/pkg/dispatcher"
)

// OutcomeEvent is emitted when a request has been answered, or skipped in
// fire-and-forget mode.
type OutcomeEvent struct {
	Service    string       `json:"service"`
	ID         string       `json:"id"`
	Route      string       `json:"route"`
	Peer       string       `json:"peer,omitempty"`
	OK         bool         `json:"ok"`
	Written    bool         `json:"written"`
	DurationMs int64        `json:"durationMs"`
	Error      *ErrorDetail `json:"error,omitempty"`
	Timestamp  string       `json:"timestamp"`
}

// ErrorDetail is the failure category and message of a failed request.
type ErrorDetail struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// FromOutcome converts a dispatcher outcome into an event.
func FromOutcome(service string, o dispatcher.Outcome) *OutcomeEvent {
	ev := &OutcomeEvent{
		Service:    service,
		ID:         o.ID,
		Route:      o.Route,
		OK:         o.Err == nil,
		Written:    o.Written,
		DurationMs: o.Duration.Milliseconds(),
		Timestamp:  time.Now().UTC().Format(time.RFC3339Nano),
	}
	if o.Addr != nil {
		ev.Peer = o.Addr.String()
	}
	if o.Err != nil {
		ev.Error = &ErrorDetail{Kind: o.Kind.String(), Message: o.Err.Error()}
	}
	return ev
}
