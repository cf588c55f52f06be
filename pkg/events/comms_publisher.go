package events

import (
	"context"
	"fmt"
	"log/slog"

	comms "github.com/nats-io/nats.go"

	"github.com/morezero/serveapi/pkg/commsutil"
)

const commsPublisherLogPrefix = "events:comms_publisher"

// CommsPublisherOpts configures CommsPublisher. Nil or zero values use defaults.
type CommsPublisherOpts struct {
	// GlobalSubject overrides the global outcome subject (e.g. from SERVEAPI_EVENTS_SUBJECT).
	GlobalSubject string
}

// CommsPublisher publishes outcome events to COMMS subjects.
type CommsPublisher struct {
	nc            *comms.Conn
	globalSubject string
}

// NewCommsPublisher creates a new CommsPublisher. Pass nil for opts to use defaults.
func NewCommsPublisher(nc *comms.Conn, opts *CommsPublisherOpts) *CommsPublisher {
	globalSubject := commsutil.SubjectOutcome
	if opts != nil && opts.GlobalSubject != "" {
		globalSubject = opts.GlobalSubject
	}
	return &CommsPublisher{nc: nc, globalSubject: globalSubject}
}

// PublishOutcome publishes an OutcomeEvent to the granular
// serveapi.outcome.<service>.<route>.<status> subject and to the global subject.
func (p *CommsPublisher) PublishOutcome(_ context.Context, event *OutcomeEvent) error {
	data, err := commsutil.EncodePayload(event)
	if err != nil {
		return fmt.Errorf("%s - failed to encode event: %w", commsPublisherLogPrefix, err)
	}

	status := commsutil.StatusOK
	if !event.OK {
		status = commsutil.StatusFailed
	}
	granular := commsutil.BuildOutcomeSubject(event.Service, event.Route, status)
	for _, subject := range []string{granular, p.globalSubject} {
		if err := p.nc.Publish(subject, data); err != nil {
			slog.Error(fmt.Sprintf("%s - failed to publish to %s: %v", commsPublisherLogPrefix, subject, err))
			return fmt.Errorf("%s - publish %s: %w", commsPublisherLogPrefix, subject, err)
		}
	}

	slog.Debug(fmt.Sprintf("%s - Published outcome %s for %s", commsPublisherLogPrefix, event.ID, event.Route))
	return nil
}
