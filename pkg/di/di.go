// Package di resolves the dependencies of route handlers.
//
// A handler's signature is analysed once, when the route is registered, into
// a Plan that records which argument slot receives the request context, the
// decoded input, the route Params, the peer address, and which slots must be
// produced by the Resolver. At request time the Resolver walks the plan,
// looking values up in the per-request Values first, then in route-level
// provider functions (recursively), then in the process-wide Container.
package di

import (
	"context"
	"errors"
	"net"
	"reflect"

	"github.com/muir/reflectutils"
)

const logPrefix = "di:resolver"

var (
	// ErrMissing reports a dependency nothing could produce.
	ErrMissing = errors.New("dependency not resolvable")
	// ErrCycle reports a provider that (transitively) depends on itself.
	ErrCycle = errors.New("dependency cycle")
	// ErrFrozen reports registration on a frozen Container.
	ErrFrozen = errors.New("container is frozen")
	// ErrInvalidProvider reports a function that cannot be used as a provider.
	ErrInvalidProvider = errors.New("invalid provider")
	// ErrDuplicateRole reports a handler with more than one Params or address slot.
	ErrDuplicateRole = errors.New("duplicate parameter role")
	// ErrNotAwaited reports an awaitable provider that closed without a value.
	ErrNotAwaited = errors.New("provider channel closed without a value")
)

// Params maps route placeholder names to the concrete segment values of one request.
type Params map[string]string

// In marks a struct parameter whose exported fields are resolved individually.
//
//	type deps struct {
//		di.In
//		Store *Store
//		Clock Clock  `optional:"true"`
//		Auth  string `depends:"token"`
//	}
type In struct{}

var (
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
	paramsType  = reflect.TypeOf(Params(nil))
	addrType    = reflect.TypeOf((*net.Addr)(nil)).Elem()
	inType      = reflect.TypeOf(In{})
)

// ResolveError describes why a dependency could not be produced.
type ResolveError struct {
	Target string
	Err    error
}

func (e *ResolveError) Error() string {
	return "resolve " + e.Target + ": " + e.Err.Error()
}

func (e *ResolveError) Unwrap() error { return e.Err }

func typeName(t reflect.Type) string {
	if t == nil {
		return "<nil>"
	}
	return reflectutils.TypeName(t)
}

func isInStruct(t reflect.Type) bool {
	if t.Kind() != reflect.Struct {
		return false
	}
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if f.Anonymous && f.Type == inType {
			return true
		}
	}
	return false
}
