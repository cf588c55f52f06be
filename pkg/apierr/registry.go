package apierr

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sync"

	"github.com/muir/reflectutils"
)

const logPrefix = "apierr:registry"

// ErrNoCatchAll is returned by Validate when no catch-all handler is registered.
var ErrNoCatchAll = errors.New("no catch-all exception handler registered")

// fallbackBody is written when even the catch-all handler fails.
const fallbackBody = `{"Exception":{"Type":"UnhandledError","Msg":"exception handler failed"}}`

// HandlerFunc renders an error into a response body. Handlers must not have
// side effects and are not expected to panic.
type HandlerFunc func(err error) string

type registration struct {
	category Category
	handler  HandlerFunc
}

// Registry maps error categories to handlers and resolves the most specific
// handler for a raised error.
type Registry struct {
	mu      sync.RWMutex
	entries []registration
}

// NewRegistry creates an empty registry. A catch-all handler must be
// registered before the registry serves traffic; see Validate.
func NewRegistry() *Registry {
	return &Registry{}
}

// NewDefaultRegistry creates a registry with InternalHandler as catch-all.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(CatchAll, InternalHandler)
	return r
}

// Register sets the handler for category, replacing any handler previously
// registered under the same category name. It returns handler so it can be
// used at declaration sites.
func (r *Registry) Register(category Category, handler HandlerFunc) HandlerFunc {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, e := range r.entries {
		if e.category.Name() == category.Name() {
			r.entries[i].handler = handler
			return handler
		}
	}
	r.entries = append(r.entries, registration{category: category, handler: handler})
	return handler
}

// Has reports whether a handler is registered under category's name.
func (r *Registry) Has(category Category) bool {
	_, ok := r.lookup(category.Name())
	return ok
}

// Validate fails when the catch-all handler is missing.
func (r *Registry) Validate() error {
	if !r.Has(CatchAll) {
		return fmt.Errorf("%s - %w", logPrefix, ErrNoCatchAll)
	}
	return nil
}

// Resolve renders err with the handler of the most specific matching
// category. Ties go to the earliest registration. Without a match the
// catch-all handler is used. A failing handler never escapes: the catch-all
// is applied to an Unhandled wrapper, and if that fails too a fixed body is
// returned.
func (r *Registry) Resolve(err error) string {
	handler := r.match(err)
	if handler != nil {
		if body, ok := safeCall(handler, err); ok {
			return body
		}
		err = &Error{Kind: Unhandled, Msg: "exception handler failed", Cause: err}
	}

	catchAll, ok := r.lookup(CatchAll.Name())
	if !ok {
		slog.Error(fmt.Sprintf("%s - no catch-all handler for %v", logPrefix, err))
		return fallbackBody
	}
	if body, ok := safeCall(catchAll, err); ok {
		return body
	}
	slog.Error(fmt.Sprintf("%s - catch-all handler failed for %v", logPrefix, err))
	return fallbackBody
}

func (r *Registry) match(err error) HandlerFunc {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var (
		best      HandlerFunc
		bestDepth int
	)
	for _, e := range r.entries {
		if !e.category.Match(err) {
			continue
		}
		if d := e.category.Depth(); d > bestDepth {
			best, bestDepth = e.handler, d
		}
	}
	return best
}

func (r *Registry) lookup(name string) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.entries {
		if e.category.Name() == name {
			return e.handler, true
		}
	}
	return nil, false
}

func safeCall(h HandlerFunc, err error) (body string, ok bool) {
	defer func() {
		if p := recover(); p != nil {
			slog.Warn(fmt.Sprintf("%s - exception handler panicked: %v", logPrefix, p))
			ok = false
		}
	}()
	return h(err), true
}

// Detail is the type and message of one error in a response body.
type Detail struct {
	Type string `json:"Type"`
	Msg  string `json:"Msg"`
}

// Body is the response shape produced by InternalHandler.
type Body struct {
	Exception         Detail  `json:"Exception"`
	OriginalException *Detail `json:"OriginalException,omitempty"`
}

// InternalHandler renders the error and its direct cause as JSON. Stack
// traces are never included.
func InternalHandler(err error) string {
	body := Body{Exception: describe(err)}
	if cause := errors.Unwrap(err); cause != nil {
		d := describe(cause)
		body.OriginalException = &d
	}
	data, mErr := json.Marshal(body)
	if mErr != nil {
		return fallbackBody
	}
	return string(data)
}

// TypeName returns the category name of a framework error or the Go type
// name of any other error. Wrappers made by fmt.Errorf are looked through.
func TypeName(err error) string {
	if e, ok := err.(*Error); ok {
		return e.Kind.String()
	}
	return reflectutils.TypeName(reflect.TypeOf(unwrapFmt(err)))
}

func unwrapFmt(err error) error {
	for err != nil {
		t := reflect.TypeOf(err)
		if t.Kind() == reflect.Pointer {
			t = t.Elem()
		}
		if t.PkgPath() != "fmt" {
			return err
		}
		next := errors.Unwrap(err)
		if next == nil {
			return err
		}
		err = next
	}
	return err
}

func describe(err error) Detail {
	return Detail{Type: TypeName(err), Msg: err.Error()}
}
