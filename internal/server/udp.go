package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"
)

const udpLogPrefix = "server:udp"

// UDPTransport treats every datagram as one message and answers to the
// datagram's source address.
type UDPTransport struct {
	pc            net.PacketConn
	readBuffer    int
	ack           bool
	fireAndForget bool
	closeOnce     sync.Once
}

// ListenUDP opens a UDP socket on addr. With ack set every datagram is
// acknowledged with a receipt datagram unless fireAndForget is set.
func ListenUDP(addr string, readBuffer int, ack, fireAndForget bool) (*UDPTransport, error) {
	pc, err := net.ListenPacket("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("%s - listen %s: %w", udpLogPrefix, addr, err)
	}
	return &UDPTransport{pc: pc, readBuffer: readBuffer, ack: ack, fireAndForget: fireAndForget}, nil
}

// Addr returns the local socket address.
func (t *UDPTransport) Addr() net.Addr { return t.pc.LocalAddr() }

// Close closes the socket.
func (t *UDPTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		if cerr := t.pc.Close(); cerr != nil {
			err = fmt.Errorf("%s - close: %w", udpLogPrefix, cerr)
		}
	})
	return err
}

// Serve reads datagrams until ctx is done. Each datagram runs through exec
// on its own goroutine. The socket stays writable after Serve returns.
func (t *UDPTransport) Serve(ctx context.Context, exec Executor) error {
	stop := context.AfterFunc(ctx, func() { t.pc.SetReadDeadline(time.Now()) })
	defer stop()

	slog.Info(fmt.Sprintf("%s - UDP transport listening on %s", udpLogPrefix, t.pc.LocalAddr()))
	var wg sync.WaitGroup
	defer wg.Wait()

	buf := make([]byte, t.readBuffer)
	for {
		n, addr, err := t.pc.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				slog.Info(fmt.Sprintf("%s - UDP transport stopped", udpLogPrefix))
				return nil
			}
			return fmt.Errorf("%s - read: %w", udpLogPrefix, err)
		}
		data := append([]byte(nil), buf[:n]...)
		wg.Add(1)
		go func() {
			defer wg.Done()
			receipt := exec.Execute(ctx, data, addr)
			if t.ack && !t.fireAndForget {
				msg := fmt.Sprintf("Message id=%q received for route=%q", receipt.ID, receipt.Route)
				if err := t.Write(ctx, []byte(msg), addr); err != nil {
					slog.Warn(fmt.Sprintf("%s - ack to %s failed: %v", udpLogPrefix, addr, err))
				}
			}
		}()
	}
}

// Write sends data as one datagram to addr.
func (t *UDPTransport) Write(_ context.Context, data []byte, addr net.Addr) error {
	if _, err := t.pc.WriteTo(data, addr); err != nil {
		return fmt.Errorf("%s - write to %s: %w", udpLogPrefix, addr, err)
	}
	return nil
}
