package server

import (
	"context"
	"errors"
	"net"

	"github.com/morezero/serveapi/pkg/dispatcher"
	"github.com/morezero/serveapi/pkg/taskrunner"
)

// ErrUnknownPeer is returned by a transport asked to write to an address it
// has no connection for.
var ErrUnknownPeer = errors.New("unknown peer")

// Executor runs the pipeline for one inbound message.
type Executor interface {
	Execute(ctx context.Context, data []byte, addr net.Addr) taskrunner.Receipt
}

// Transport receives framed messages and writes responses back to their
// sender.
type Transport interface {
	dispatcher.Writer
	// Serve feeds every inbound message to exec until ctx is done.
	Serve(ctx context.Context, exec Executor) error
	// Addr is the address the transport receives on.
	Addr() net.Addr
	// Close releases the listening socket.
	Close() error
}
