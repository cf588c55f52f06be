// Package dispatcher runs bound handlers concurrently and writes their
// encoded results, or the rendered failure, back to the requesting peer.
package dispatcher

import (
	"context"
	"net"
	"time"

	"github.com/morezero/serveapi/pkg/apierr"
)

// Writer is the transport boundary. Write may fail transiently; failures
// are logged and dropped.
type Writer interface {
	Write(ctx context.Context, data []byte, addr net.Addr) error
}

// WriterFunc adapts a function to Writer.
type WriterFunc func(ctx context.Context, data []byte, addr net.Addr) error

// Write implements Writer.
func (f WriterFunc) Write(ctx context.Context, data []byte, addr net.Addr) error {
	return f(ctx, data, addr)
}

// BoundFunc is a handler with every argument already bound.
type BoundFunc func(ctx context.Context) (any, error)

// Request identifies one in-flight message. An empty ID is replaced with a
// generated one. IDs chosen by peers need not be unique across peers.
type Request struct {
	ID    string
	Route string
	Addr  net.Addr

	key string
}

// Outcome describes a finished request. Err and Kind are set on failure.
type Outcome struct {
	ID       string
	Route    string
	Addr     net.Addr
	Duration time.Duration
	Written  bool
	Err      error
	Kind     apierr.Kind
}

// Hook observes outcomes. Hooks run on the request goroutine and should return quickly.
type Hook func(Outcome)
