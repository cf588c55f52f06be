package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	comms "github.com/nats-io/nats.go"

	"github.com/morezero/serveapi/internal/config"
	"github.com/morezero/serveapi/pkg/commsutil"
	"github.com/morezero/serveapi/pkg/events"
)

var errNoCOMMS = errors.New("COMMS_URL is required to watch events")

// runEvents prints outcome events from COMMS until interrupted.
func runEvents() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("%s - failed to load config: %w", logPrefix, err)
	}
	if cfg.COMMSURL == "" {
		return errNoCOMMS
	}
	nc, err := commsutil.Connect(cfg.COMMSURL, cfg.COMMSName+"-events", cfg.COMMSOptions()...)
	if err != nil {
		return err
	}
	defer nc.Drain()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return watchEvents(ctx, nc, cfg.EventsSubject, os.Stdout)
}

// watchEvents writes one line per outcome event on subject until ctx is done.
func watchEvents(ctx context.Context, nc *comms.Conn, subject string, w io.Writer) error {
	var mu sync.Mutex
	sub, err := events.Subscribe(nc, subject, func(ev *events.OutcomeEvent) {
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintln(w, formatEvent(ev))
	})
	if err != nil {
		return err
	}
	<-ctx.Done()
	return sub.Unsubscribe()
}

func formatEvent(ev *events.OutcomeEvent) string {
	status := commsutil.StatusOK
	if !ev.OK {
		status = commsutil.StatusFailed
	}
	line := fmt.Sprintf("%s %s %s %s id=%s %dms", ev.Timestamp, ev.Service, ev.Route, status, ev.ID, ev.DurationMs)
	if ev.Error != nil {
		line += fmt.Sprintf(" %s: %s", ev.Error.Kind, ev.Error.Message)
	}
	return line
}
