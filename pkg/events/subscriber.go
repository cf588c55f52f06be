package events

import (
	"fmt"
	"log/slog"

	comms "github.com/nats-io/nats.go"

	"github.com/morezero/serveapi/pkg/commsutil"
)

const subscriberLogPrefix = "events:subscriber"

// Subscribe delivers every outcome event published on subject to fn. An
// empty subject listens on the default global outcome subject. Messages that
// are not outcome events are logged and skipped.
func Subscribe(nc *comms.Conn, subject string, fn func(*OutcomeEvent)) (*comms.Subscription, error) {
	if subject == "" {
		subject = commsutil.SubjectOutcome
	}
	sub, err := nc.Subscribe(subject, func(msg *comms.Msg) {
		var ev OutcomeEvent
		if err := commsutil.DecodePayload(msg.Data, &ev); err != nil {
			slog.Warn(fmt.Sprintf("%s - skipping message on %s: %v", subscriberLogPrefix, msg.Subject, err))
			return
		}
		fn(&ev)
	})
	if err != nil {
		return nil, fmt.Errorf("%s - subscribe %s: %w", subscriberLogPrefix, subject, err)
	}
	if err := nc.Flush(); err != nil {
		sub.Unsubscribe()
		return nil, fmt.Errorf("%s - flush subscription %s: %w", subscriberLogPrefix, subject, err)
	}
	return sub, nil
}
