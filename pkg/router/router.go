// Package router maps route patterns with {placeholder} segments to handlers.
package router

import (
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"sync"

	"github.com/morezero/serveapi/pkg/di"
)

const logPrefix = "router:router"

// ErrNotFound is wrapped by every NotFoundError.
var ErrNotFound = errors.New("not found")

// Params maps placeholder names to the concrete values of one request.
type Params = di.Params

// NotFoundError reports a path that matches no registered pattern.
type NotFoundError struct {
	Path string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("route %s not found", e.Path)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// HandlerPack is the immutable registration record of one route.
type HandlerPack struct {
	Pattern      string
	Key          string
	Handler      any
	Input        reflect.Type
	Params       []string
	Dependencies []di.Dependency
	Plan         *di.Plan
}

// Option configures a Router.
type Option func(*Router)

// WithPrefix prefixes every pattern registered on the router.
func WithPrefix(prefix string) Option {
	return func(r *Router) { r.prefix = prefix }
}

// RouteOption configures one registration.
type RouteOption func(*routeConfig)

type routeConfig struct {
	deps []di.Dependency
}

// WithDependencies declares route-level dependencies. Provider functions
// returning only an error run as guards before the handler.
func WithDependencies(deps ...di.Dependency) RouteOption {
	return func(c *routeConfig) { c.deps = append(c.deps, deps...) }
}

// Router is the route table. Registration happens at startup; Lookup is
// safe for concurrent use.
type Router struct {
	prefix string

	mu     sync.RWMutex
	routes map[string]*HandlerPack
	order  []string
}

// New creates an empty Router.
func New(opts ...Option) *Router {
	r := &Router{routes: make(map[string]*HandlerPack)}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Prefix returns the prefix applied to registered patterns.
func (r *Router) Prefix() string { return r.prefix }

// Register validates pattern and stores handler under its normalised form.
// A pattern that normalises like an earlier one replaces it.
func (r *Router) Register(pattern string, handler any, opts ...RouteOption) error {
	var cfg routeConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	full := JoinPrefix(r.prefix, pattern)
	names, err := Validate(full)
	if err != nil {
		return err
	}
	plan, err := di.Analyze(handler, cfg.deps...)
	if err != nil {
		return fmt.Errorf("%s - register %s: %w", logPrefix, full, err)
	}
	key, _ := Normalize(full)
	pack := &HandlerPack{
		Pattern:      full,
		Key:          key,
		Handler:      handler,
		Input:        plan.InputType(),
		Params:       names,
		Dependencies: cfg.deps,
		Plan:         plan,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.routes[key]; ok {
		slog.Warn(fmt.Sprintf("%s - %s replaces %s", logPrefix, full, prev.Pattern))
	} else {
		r.order = append(r.order, key)
	}
	r.routes[key] = pack
	slog.Debug(fmt.Sprintf("%s - registered %s as %s", logPrefix, full, key))
	return nil
}

// MustRegister is Register that panics on error.
func (r *Router) MustRegister(pattern string, handler any, opts ...RouteOption) {
	if err := r.Register(pattern, handler, opts...); err != nil {
		panic(err)
	}
}

// Route returns a registration func that registers and returns handler.
//
//	echo := r.Route("/echo")(func(s string) string { return s })
func (r *Router) Route(pattern string, opts ...RouteOption) func(handler any) any {
	return func(handler any) any {
		r.MustRegister(pattern, handler, opts...)
		return handler
	}
}

// Lookup finds the handler for path. A path written with {value} segments
// matches its normalised key directly; otherwise each segment is compared
// against patterns of the same length, literal segments exactly and
// placeholders capturing the raw segment. The pattern with the most literal
// segments wins.
func (r *Router) Lookup(path string) (*HandlerPack, Params, error) {
	key, values := Normalize(path)

	r.mu.RLock()
	defer r.mu.RUnlock()

	if pack, ok := r.routes[key]; ok && len(pack.Params) == len(values) {
		return pack, zip(pack.Params, values), nil
	}

	segments := split(path)
	var best *HandlerPack
	var bestValues []string
	bestLiterals := -1
	for _, k := range r.order {
		pack := r.routes[k]
		vals, literals, ok := match(pack.Key, segments)
		if ok && literals > bestLiterals {
			best, bestValues, bestLiterals = pack, vals, literals
		}
	}
	if best == nil {
		return nil, nil, &NotFoundError{Path: path}
	}
	return best, zip(best.Params, bestValues), nil
}

// Items returns the registered handler packs in registration order.
func (r *Router) Items() []*HandlerPack {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*HandlerPack, 0, len(r.order))
	for _, k := range r.order {
		out = append(out, r.routes[k])
	}
	return out
}

// Len returns the number of registered routes.
func (r *Router) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.routes)
}

func match(key string, segments []string) ([]string, int, bool) {
	pattern := split(key)
	if len(pattern) != len(segments) {
		return nil, 0, false
	}
	var values []string
	literals := 0
	for i, p := range pattern {
		seg := segments[i]
		if p == Placeholder {
			if isPlaceholder(seg) {
				seg = seg[1 : len(seg)-1]
			}
			values = append(values, seg)
			continue
		}
		if p != seg {
			return nil, 0, false
		}
		literals++
	}
	return values, literals, true
}

func zip(names, values []string) Params {
	params := make(Params, len(names))
	for i, name := range names {
		params[name] = values[i]
	}
	return params
}

// JoinPrefix joins a prefix and a pattern the way Register does.
func JoinPrefix(prefix, pattern string) string {
	if prefix == "" {
		return pattern
	}
	return strings.TrimRight(prefix, "/") + "/" + strings.TrimLeft(pattern, "/")
}
