// Package server orchestrates all components: transport, COMMS client,
// outcome events, the request pipeline and the HTTP status endpoint.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	comms "github.com/nats-io/nats.go"
	"golang.org/x/sync/errgroup"

	"github.com/morezero/serveapi/internal/config"
	"github.com/morezero/serveapi/pkg/commsutil"
	"github.com/morezero/serveapi/pkg/events"
	"github.com/morezero/serveapi/pkg/taskrunner"
)

const logPrefix = "server:server"

// Server is the serveapi orchestrator.
type Server struct {
	cfg        *config.Config
	nc         *comms.Conn
	transport  Transport
	pipe       *pipeline
	httpServer *http.Server
}

// New connects to COMMS when configured, opens the transport and builds the
// pipeline of the service described by setup.
func New(cfg *config.Config, setup Setup) (*Server, error) {
	if err := cfg.ValidateForServe(); err != nil {
		return nil, err
	}
	s := &Server{cfg: cfg}

	var publisher events.EventPublisher = &events.NoOpPublisher{}
	if cfg.COMMSURL != "" {
		nc, err := commsutil.Connect(cfg.COMMSURL, cfg.COMMSName, cfg.COMMSOptions()...)
		if err != nil {
			return nil, fmt.Errorf("%s - failed to connect to COMMS: %w", logPrefix, err)
		}
		s.nc = nc
		slog.Info(fmt.Sprintf("%s - Connected to COMMS at %s", logPrefix, cfg.COMMSURL))
		publisher = events.NewCommsPublisher(nc, &events.CommsPublisherOpts{GlobalSubject: cfg.EventsSubject})
	}

	transport, err := s.openTransport()
	if err != nil {
		s.Close()
		return nil, err
	}
	s.transport = transport

	pipe, err := newPipeline(cfg, setup, transport, publisher)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.pipe = pipe

	if cfg.HTTPAddr != "" {
		s.httpServer = &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           s.statusMux(),
			ReadHeaderTimeout: 5 * time.Second,
		}
	}
	return s, nil
}

func (s *Server) openTransport() (Transport, error) {
	switch s.cfg.Protocol {
	case config.ProtocolUDP:
		return ListenUDP(s.cfg.Addr(), s.cfg.ReadBuffer, s.cfg.Ack, s.cfg.FireAndForget)
	case config.ProtocolNATS:
		subject := s.cfg.Subject
		if subject == "" {
			subject = commsutil.BuildRequestSubject(s.cfg.COMMSName)
		}
		return NewNATSTransport(s.nc, subject, s.cfg.COMMSName), nil
	}
	return ListenTCP(s.cfg.Addr(), s.cfg.ReadBuffer, s.cfg.Ack, s.cfg.FireAndForget)
}

// Addr returns the address the transport receives on.
func (s *Server) Addr() string { return s.transport.Addr().String() }

// Serve runs the transport and the status endpoint until ctx is done, then
// waits up to the shutdown timeout for in-flight requests before closing the
// transport.
func (s *Server) Serve(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	// In-flight requests outlive the transport so they can still answer.
	execCtx := context.WithoutCancel(ctx)
	g.Go(func() error {
		return s.transport.Serve(gctx, executorWithContext{exec: s.pipe.exec, ctx: execCtx})
	})

	if s.httpServer != nil {
		g.Go(func() error {
			slog.Info(fmt.Sprintf("%s - HTTP status server listening on %s", logPrefix, s.httpServer.Addr))
			if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("%s - HTTP status server: %w", logPrefix, err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
			defer cancel()
			return s.httpServer.Shutdown(shutdownCtx)
		})
	}

	err := g.Wait()
	s.drain()
	if cerr := s.transport.Close(); cerr != nil {
		slog.Warn(fmt.Sprintf("%s - close transport: %v", logPrefix, cerr))
	}
	return err
}

func (s *Server) drain() {
	done := make(chan struct{})
	go func() {
		s.pipe.wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(s.cfg.ShutdownTimeout):
		slog.Warn(fmt.Sprintf("%s - %d requests still pending after %s", logPrefix, s.pipe.pending(), s.cfg.ShutdownTimeout))
	}
}

// Close releases the transport and the COMMS connection.
func (s *Server) Close() {
	if s.transport != nil {
		s.transport.Close()
	}
	if s.nc != nil {
		s.nc.Drain()
	}
}

// executorWithContext swaps the transport's context for one that survives
// shutdown.
type executorWithContext struct {
	exec Executor
	ctx  context.Context
}

func (e executorWithContext) Execute(_ context.Context, data []byte, addr net.Addr) taskrunner.Receipt {
	return e.exec.Execute(e.ctx, data, addr)
}

// Run loads the configuration, starts the server, blocks until a shutdown
// signal, then cleans up.
func Run(setup Setup) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("%s - failed to load config: %w", logPrefix, err)
	}
	setupLogging(cfg.LogLevel)

	slog.Info(fmt.Sprintf("%s - Starting serveapi (%s, codec %s)", logPrefix, cfg.Protocol, cfg.Codec))

	s, err := New(cfg, setup)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info(fmt.Sprintf("%s - Serving %d routes on %s", logPrefix, s.pipe.router.Len(), s.Addr()))
	if err := s.Serve(ctx); err != nil {
		return err
	}
	slog.Info(fmt.Sprintf("%s - Shutdown complete", logPrefix))
	return nil
}

func setupLogging(level string) {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))
}
