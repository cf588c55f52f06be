// Package serveapi is the application facade. An App collects routes,
// middleware, exception handlers and component providers during startup and
// builds the task runner a transport feeds inbound messages to.
package serveapi

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/morezero/serveapi/pkg/apierr"
	"github.com/morezero/serveapi/pkg/cast"
	"github.com/morezero/serveapi/pkg/di"
	"github.com/morezero/serveapi/pkg/dispatcher"
	"github.com/morezero/serveapi/pkg/middleware"
	"github.com/morezero/serveapi/pkg/router"
	"github.com/morezero/serveapi/pkg/taskrunner"
	"github.com/morezero/serveapi/pkg/wire"
)

const logPrefix = "serveapi:app"

// ErrBuilt is returned when a registration arrives after Build.
var ErrBuilt = errors.New("app already built")

// Option configures an App.
type Option func(*options)

type options struct {
	prefix string
	errs   *apierr.Registry
}

// WithPrefix prefixes every route registered directly on the App.
func WithPrefix(prefix string) Option {
	return func(o *options) { o.prefix = prefix }
}

// WithExceptionRegistry replaces the default registry, which only has the
// catch-all handler.
func WithExceptionRegistry(r *apierr.Registry) Option {
	return func(o *options) { o.errs = r }
}

// App owns the router, middleware chain, exception registry and component
// container of one service.
type App[T any] struct {
	codec     wire.Codec[T]
	cast      cast.Cast[T]
	router    *router.Router
	chain     *middleware.Chain[T]
	errs      *apierr.Registry
	container *di.Container
	resolver  *di.Resolver

	mu    sync.Mutex
	built bool
}

// New creates an App decoding messages with codec and converting payloads
// with c.
func New[T any](codec wire.Codec[T], c cast.Cast[T], opts ...Option) *App[T] {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.errs == nil {
		o.errs = apierr.NewDefaultRegistry()
	}
	container := di.NewContainer()
	return &App[T]{
		codec:     codec,
		cast:      c,
		router:    router.New(router.WithPrefix(o.prefix)),
		chain:     middleware.New[T](),
		errs:      o.errs,
		container: container,
		resolver:  di.NewResolver(container),
	}
}

// NewString creates an App speaking the serveAPI:<route>:<payload> framing.
func NewString(opts ...Option) *App[string] {
	return New[string](wire.NewSimpleString(), cast.String{}, opts...)
}

// Router returns the App's route table.
func (a *App[T]) Router() *router.Router { return a.router }

// Exceptions returns the App's exception registry.
func (a *App[T]) Exceptions() *apierr.Registry { return a.errs }

// Container returns the App's component container.
func (a *App[T]) Container() *di.Container { return a.container }

// Register adds a route handler.
func (a *App[T]) Register(pattern string, handler any, opts ...router.RouteOption) error {
	if err := a.open(); err != nil {
		return err
	}
	return a.router.Register(pattern, handler, opts...)
}

// Route returns a registration func for pattern. It panics on an invalid
// pattern or handler.
func (a *App[T]) Route(pattern string, opts ...router.RouteOption) func(handler any) any {
	return func(handler any) any {
		if err := a.Register(pattern, handler, opts...); err != nil {
			panic(err)
		}
		return handler
	}
}

// IncludeRouter copies every route of r into the App under prefix. deps are
// appended to each route's own dependencies.
func (a *App[T]) IncludeRouter(r *router.Router, prefix string, deps ...di.Dependency) error {
	if err := a.open(); err != nil {
		return err
	}
	for _, pack := range r.Items() {
		all := append(append([]di.Dependency(nil), pack.Dependencies...), deps...)
		pattern := router.JoinPrefix(prefix, pack.Pattern)
		if err := a.router.Register(pattern, pack.Handler, router.WithDependencies(all...)); err != nil {
			return fmt.Errorf("%s - include %s: %w", logPrefix, pack.Pattern, err)
		}
	}
	slog.Debug(fmt.Sprintf("%s - included %d routes under %q", logPrefix, len(r.Items()), prefix))
	return nil
}

// Use appends fn to the request or response middleware stage.
func (a *App[T]) Use(stage middleware.Stage, fn middleware.Func[T]) (middleware.Func[T], error) {
	if err := a.open(); err != nil {
		return nil, err
	}
	return a.chain.Use(stage, fn)
}

// AddExceptionHandler registers handler for category.
func (a *App[T]) AddExceptionHandler(category apierr.Category, handler apierr.HandlerFunc) apierr.HandlerFunc {
	return a.errs.Register(category, handler)
}

// ExceptionHandler returns a registration func for category.
func (a *App[T]) ExceptionHandler(category apierr.Category) func(apierr.HandlerFunc) apierr.HandlerFunc {
	return func(h apierr.HandlerFunc) apierr.HandlerFunc {
		return a.errs.Register(category, h)
	}
}

// Provide registers a component constructor in the container.
func (a *App[T]) Provide(constructor any, opts ...di.ProvideOption) error {
	return a.container.Provide(constructor, opts...)
}

// Supply registers a ready-made component.
func (a *App[T]) Supply(value any) error {
	return a.container.Supply(value)
}

// Named registers a provider selected by `depends:"name"` struct tags.
func (a *App[T]) Named(name string, provider any) error {
	return a.resolver.Named(name, provider)
}

// OverrideDependency makes every use of provider orig call replacement.
// Overrides may change after Build.
func (a *App[T]) OverrideDependency(orig, replacement any) error {
	return a.resolver.Override(orig, replacement)
}

// ClearDependencyOverrides removes every override.
func (a *App[T]) ClearDependencyOverrides() {
	a.resolver.ClearOverrides()
}

// Build ends the registration phase and returns a task runner answering
// through w. It fails when the container graph is incomplete or cyclic or
// when no catch-all exception handler is registered.
func (a *App[T]) Build(w dispatcher.Writer, opts ...dispatcher.Option[T]) (*taskrunner.TaskRunner[T], error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.container.Freeze(); err != nil {
		return nil, fmt.Errorf("%s - build: %w", logPrefix, err)
	}
	disp := dispatcher.New[T](a.codec, a.cast, a.chain, a.errs, w, opts...)
	runner, err := taskrunner.New[T](a.codec, a.router, a.chain, a.cast, a.resolver, disp)
	if err != nil {
		return nil, fmt.Errorf("%s - build: %w", logPrefix, err)
	}
	a.built = true
	slog.Info(fmt.Sprintf("%s - built with %d routes", logPrefix, a.router.Len()))
	return runner, nil
}

func (a *App[T]) open() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.built {
		return fmt.Errorf("%s - %w", logPrefix, ErrBuilt)
	}
	return nil
}
