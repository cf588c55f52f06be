package events

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/morezero/serveapi/pkg/dispatcher"
)

const logPrefix = "events:publisher"

// EventPublisher publishes request outcome events.
type EventPublisher interface {
	PublishOutcome(ctx context.Context, event *OutcomeEvent) error
}

// NoOpPublisher is an EventPublisher that does nothing (for running without COMMS).
type NoOpPublisher struct{}

// PublishOutcome is a no-op.
func (p *NoOpPublisher) PublishOutcome(_ context.Context, _ *OutcomeEvent) error {
	return nil
}

// CallbackPublisher is an EventPublisher that calls a callback function (for testing).
type CallbackPublisher struct {
	callback func(ctx context.Context, event *OutcomeEvent) error
}

// NewCallbackPublisher creates a new CallbackPublisher.
func NewCallbackPublisher(cb func(ctx context.Context, event *OutcomeEvent) error) *CallbackPublisher {
	return &CallbackPublisher{callback: cb}
}

// PublishOutcome calls the callback.
func (p *CallbackPublisher) PublishOutcome(ctx context.Context, event *OutcomeEvent) error {
	return p.callback(ctx, event)
}

// publishTimeout bounds a publish started from a dispatcher hook.
const publishTimeout = 2 * time.Second

// Hook adapts pub to a dispatcher hook. Publish failures are logged.
func Hook(pub EventPublisher, service string) dispatcher.Hook {
	return func(o dispatcher.Outcome) {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		if err := pub.PublishOutcome(ctx, FromOutcome(service, o)); err != nil {
			slog.Warn(fmt.Sprintf("%s - failed to publish outcome of %s: %v", logPrefix, o.ID, err))
		}
	}
}
