package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/morezero/serveapi/pkg/safemap"
)

const tcpLogPrefix = "server:tcp"

// streamAddr identifies a stream whose peer address is unknown.
type streamAddr string

func (a streamAddr) Network() string { return "tcp-stream" }
func (a streamAddr) String() string  { return string(a) }

type peerConn struct {
	mu   sync.Mutex
	conn net.Conn
}

func (p *peerConn) write(data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, err := p.conn.Write(data)
	return err
}

// TCPTransport serves one stream per client. Every read of up to readBuffer
// bytes is one message.
type TCPTransport struct {
	ln            net.Listener
	readBuffer    int
	ack           bool
	fireAndForget bool
	peers         *safemap.Map[*peerConn]
	closeOnce     sync.Once
}

// ListenTCP opens a TCP listener on addr. With ack set every message is
// acknowledged with a receipt line unless fireAndForget is set.
func ListenTCP(addr string, readBuffer int, ack, fireAndForget bool) (*TCPTransport, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%s - listen %s: %w", tcpLogPrefix, addr, err)
	}
	return &TCPTransport{
		ln:            ln,
		readBuffer:    readBuffer,
		ack:           ack,
		fireAndForget: fireAndForget,
		peers:         safemap.New[*peerConn](),
	}, nil
}

// Addr returns the listener address.
func (t *TCPTransport) Addr() net.Addr { return t.ln.Addr() }

// Close closes the listener and every client connection.
func (t *TCPTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		if cerr := t.ln.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			err = fmt.Errorf("%s - close listener: %w", tcpLogPrefix, cerr)
		}
		t.peers.Range(func(key string, p *peerConn) {
			t.peers.Pop(key)
			p.conn.Close()
		})
	})
	return err
}

// Serve accepts clients until ctx is done. It then stops reading but leaves
// connections open for responses still in flight; Close releases them.
func (t *TCPTransport) Serve(ctx context.Context, exec Executor) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()
		t.ln.Close()
		now := time.Now()
		t.peers.Range(func(_ string, p *peerConn) {
			p.conn.SetReadDeadline(now)
		})
		return nil
	})
	g.Go(func() error {
		for {
			conn, err := t.ln.Accept()
			if err != nil {
				if gctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("%s - accept: %w", tcpLogPrefix, err)
			}
			g.Go(func() error {
				t.handle(gctx, conn, exec)
				return nil
			})
		}
	})
	slog.Info(fmt.Sprintf("%s - TCP transport listening on %s", tcpLogPrefix, t.ln.Addr()))
	err := g.Wait()
	slog.Info(fmt.Sprintf("%s - TCP transport stopped", tcpLogPrefix))
	return err
}

func (t *TCPTransport) handle(ctx context.Context, conn net.Conn, exec Executor) {
	addr := conn.RemoteAddr()
	known := addr != nil
	if !known {
		if !t.fireAndForget {
			slog.Error(fmt.Sprintf("%s - could not get client address, closing connection", tcpLogPrefix))
			conn.Close()
			return
		}
		addr = streamAddr(uuid.NewString())
	}
	key := addr.String()
	peer := &peerConn{conn: conn}
	t.peers.Set(key, peer)
	defer func() {
		if ctx.Err() != nil {
			return
		}
		t.peers.Pop(key)
		conn.Close()
	}()
	if ctx.Err() != nil {
		return
	}
	slog.Debug(fmt.Sprintf("%s - client %s connected", tcpLogPrefix, key))

	buf := make([]byte, t.readBuffer)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			data := append([]byte(nil), buf[:n]...)
			receipt := exec.Execute(ctx, data, addr)
			if t.ack && !t.fireAndForget && known {
				msg := fmt.Sprintf("Message received from addr:%q for route:%q", key, receipt.Route)
				if werr := peer.write([]byte(msg)); werr != nil {
					slog.Warn(fmt.Sprintf("%s - ack to %s failed: %v", tcpLogPrefix, key, werr))
				}
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				slog.Debug(fmt.Sprintf("%s - read from %s: %v", tcpLogPrefix, key, err))
			}
			slog.Debug(fmt.Sprintf("%s - client %s disconnected", tcpLogPrefix, key))
			return
		}
	}
}

// Write sends data on the stream of addr. A failed write drops the stream
// from the writer table.
func (t *TCPTransport) Write(_ context.Context, data []byte, addr net.Addr) error {
	key := addr.String()
	peer, ok := t.peers.Get(key)
	if !ok {
		if t.fireAndForget {
			slog.Info(fmt.Sprintf("%s - fire-and-forget mode: no response sent to %s", tcpLogPrefix, key))
			return nil
		}
		return fmt.Errorf("%s - write to %s: %w", tcpLogPrefix, key, ErrUnknownPeer)
	}
	if err := peer.write(data); err != nil {
		t.peers.Pop(key)
		return fmt.Errorf("%s - write to %s: %w", tcpLogPrefix, key, err)
	}
	return nil
}
