package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"

	comms "github.com/nats-io/nats.go"
)

const natsLogPrefix = "server:nats"

// ErrNoReply is returned when a response is written for a message published
// without a reply subject.
var ErrNoReply = errors.New("message has no reply subject")

// ReplyAddr is the reply subject of a COMMS request.
type ReplyAddr string

// Network implements net.Addr.
func (a ReplyAddr) Network() string { return "nats" }

// String implements net.Addr.
func (a ReplyAddr) String() string { return string(a) }

// NATSTransport receives messages on a COMMS subject. Subscribers sharing the
// queue group split the load.
type NATSTransport struct {
	nc      *comms.Conn
	subject string
	queue   string
}

// NewNATSTransport creates a transport subscribing to subject in queue group
// queue. An empty queue subscribes without a group.
func NewNATSTransport(nc *comms.Conn, subject, queue string) *NATSTransport {
	return &NATSTransport{nc: nc, subject: subject, queue: queue}
}

// Addr returns the request subject.
func (t *NATSTransport) Addr() net.Addr { return ReplyAddr(t.subject) }

// Close is a no-op; the subscription ends with Serve and the connection is
// owned by the caller.
func (t *NATSTransport) Close() error { return nil }

// Serve subscribes and runs every message through exec until ctx is done,
// then drains the subscription.
func (t *NATSTransport) Serve(ctx context.Context, exec Executor) error {
	handler := func(msg *comms.Msg) {
		exec.Execute(ctx, msg.Data, ReplyAddr(msg.Reply))
	}
	var (
		sub *comms.Subscription
		err error
	)
	if t.queue != "" {
		sub, err = t.nc.QueueSubscribe(t.subject, t.queue, handler)
	} else {
		sub, err = t.nc.Subscribe(t.subject, handler)
	}
	if err != nil {
		return fmt.Errorf("%s - failed to subscribe to %s: %w", natsLogPrefix, t.subject, err)
	}
	if err := t.nc.Flush(); err != nil {
		return fmt.Errorf("%s - flush subscription %s: %w", natsLogPrefix, t.subject, err)
	}
	slog.Info(fmt.Sprintf("%s - Subscribed to %s", natsLogPrefix, t.subject))

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		slog.Warn(fmt.Sprintf("%s - drain %s: %v", natsLogPrefix, t.subject, err))
	}
	slog.Info(fmt.Sprintf("%s - Unsubscribed from %s", natsLogPrefix, t.subject))
	return nil
}

// Write publishes data to the reply subject addr.
func (t *NATSTransport) Write(_ context.Context, data []byte, addr net.Addr) error {
	subject := addr.String()
	if subject == "" {
		return fmt.Errorf("%s - %w", natsLogPrefix, ErrNoReply)
	}
	if err := t.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("%s - publish reply to %s: %w", natsLogPrefix, subject, err)
	}
	return nil
}
