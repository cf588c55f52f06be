package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync/atomic"

	"github.com/morezero/serveapi/internal/server"
	"github.com/morezero/serveapi/pkg/apierr"
	"github.com/morezero/serveapi/pkg/cast"
	"github.com/morezero/serveapi/pkg/di"
	"github.com/morezero/serveapi/pkg/middleware"
	"github.com/morezero/serveapi/pkg/router"
	"github.com/morezero/serveapi/pkg/serveapi"
	"github.com/morezero/serveapi/pkg/wire"
)

const logPrefix = "cmd:demo"

var errEmptyName = errors.New("name must not be empty")

// counter is a process-wide component shared by every request.
type counter struct{ n atomic.Int64 }

func newCounter() *counter { return &counter{} }

func (c *counter) next() int64 { return c.n.Add(1) }

// peer renders the caller address.
func peer(addr net.Addr) string {
	if addr == nil {
		return "unknown"
	}
	return addr.String()
}

func requireName(p router.Params) error {
	if strings.TrimSpace(p["name"]) == "" {
		return errEmptyName
	}
	return nil
}

type greetDeps struct {
	di.In
	Name    string
	Counter *counter
	Peer    string `depends:"peer"`
}

func registerText(app *serveapi.App[string]) error {
	if err := app.Provide(newCounter); err != nil {
		return err
	}
	if err := app.Named("peer", peer); err != nil {
		return err
	}
	if _, err := app.Use(middleware.Request, middleware.Pure(strings.TrimSpace)); err != nil {
		return err
	}
	app.AddExceptionHandler(apierr.Is(errEmptyName, apierr.KindCategory(apierr.DependencyResolve)), func(err error) string {
		return `{"Exception":{"Type":"BadRequest","Msg":"name must not be empty"}}`
	})

	routes := []struct {
		pattern string
		handler any
		opts    []router.RouteOption
	}{
		{pattern: "/echo", handler: func(s string) string { return s }},
		{pattern: "/upper", handler: strings.ToUpper},
		{pattern: "/log", handler: func(s string) { slog.Info(fmt.Sprintf("%s - %s", logPrefix, s)) }},
		{
			pattern: "/greet/{name}",
			handler: func(_ string, d greetDeps) string {
				return fmt.Sprintf("hello %s from %s (#%d)", d.Name, d.Peer, d.Counter.next())
			},
			opts: []router.RouteOption{router.WithDependencies(di.Depends(requireName))},
		},
	}
	for _, r := range routes {
		if err := app.Register(r.pattern, r.handler, r.opts...); err != nil {
			return err
		}
	}
	return nil
}

type point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type sum struct {
	Total float64 `json:"total"`
}

func registerDocument(app *serveapi.App[wire.Document]) error {
	if err := app.Provide(newCounter); err != nil {
		return err
	}
	if err := app.Register("/sum", func(p point) sum { return sum{Total: p.X + p.Y} }); err != nil {
		return err
	}
	return app.Register("/count", func(_ context.Context, _ wire.Document, c *counter) wire.Document {
		return wire.Document{"count": c.next()}
	})
}

func demoSetup() server.Setup {
	return server.Setup{Text: registerText, Document: registerDocument}
}

func printRoutes(w io.Writer) error {
	text := serveapi.NewString()
	if err := registerText(text); err != nil {
		return err
	}
	doc := serveapi.New[wire.Document](wire.NewDocumentJSON(), cast.JSON{})
	if err := registerDocument(doc); err != nil {
		return err
	}
	fmt.Fprintln(w, "text framings:")
	for _, p := range text.Router().Items() {
		fmt.Fprintf(w, "  %-16s %s\n", p.Pattern, inputName(p))
	}
	fmt.Fprintln(w, "document framings:")
	for _, p := range doc.Router().Items() {
		fmt.Fprintf(w, "  %-16s %s\n", p.Pattern, inputName(p))
	}
	return nil
}

func inputName(p *router.HandlerPack) string {
	if p.Input == nil {
		return "-"
	}
	return p.Input.String()
}
