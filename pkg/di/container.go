package di

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
)

const containerLogPrefix = "di:container"

// Lifetime controls how often a constructor runs.
type Lifetime int

const (
	// Singleton constructs once per Container.
	Singleton Lifetime = iota
	// Transient constructs on every resolution.
	Transient
)

// ProvideOption configures a Provide call.
type ProvideOption func(*entry)

// WithLifetime sets the lifetime of a provided type.
func WithLifetime(l Lifetime) ProvideOption {
	return func(e *entry) { e.lifetime = l }
}

// AsTransient is shorthand for WithLifetime(Transient).
func AsTransient() ProvideOption {
	return WithLifetime(Transient)
}

type entry struct {
	out      reflect.Type
	ctor     reflect.Value
	hasErr   bool
	lifetime Lifetime

	mu    sync.Mutex
	built bool
	value reflect.Value
}

// Container is the process-wide component registry. It is written during
// startup and read concurrently once Freeze has been called.
type Container struct {
	mu      sync.RWMutex
	entries map[reflect.Type]*entry
	frozen  bool
}

// NewContainer creates an empty Container.
func NewContainer() *Container {
	return &Container{entries: make(map[reflect.Type]*entry)}
}

// Provide registers a constructor. The constructor returns T or (T, error)
// and may take context.Context and any other type the Container provides.
func (c *Container) Provide(constructor any, opts ...ProvideOption) error {
	fv := reflect.ValueOf(constructor)
	if fv.Kind() != reflect.Func || fv.IsNil() {
		return fmt.Errorf("%s - constructor %T: %w", containerLogPrefix, constructor, ErrInvalidProvider)
	}
	ft := fv.Type()
	switch {
	case ft.NumOut() == 1 && ft.Out(0) != errorType:
	case ft.NumOut() == 2 && ft.Out(1) == errorType:
	default:
		return fmt.Errorf("%s - constructor %s must return T or (T, error): %w", containerLogPrefix, typeName(ft), ErrInvalidProvider)
	}
	e := &entry{out: ft.Out(0), ctor: fv, hasErr: ft.NumOut() == 2}
	for _, opt := range opts {
		opt(e)
	}
	return c.put(e)
}

// Supply registers an already constructed value under its dynamic type.
func (c *Container) Supply(value any) error {
	if value == nil {
		return fmt.Errorf("%s - cannot supply nil: %w", containerLogPrefix, ErrInvalidProvider)
	}
	v := reflect.ValueOf(value)
	return c.put(&entry{out: v.Type(), built: true, value: v})
}

// Override registers value under t, replacing whatever was provided. It is
// meant for swapping in test doubles and for interface bindings.
func (c *Container) Override(t reflect.Type, value any) error {
	v := reflect.ValueOf(value)
	if value == nil || !v.Type().AssignableTo(t) {
		return fmt.Errorf("%s - %T is not assignable to %s: %w", containerLogPrefix, value, typeName(t), ErrInvalidProvider)
	}
	out := reflect.New(t).Elem()
	out.Set(v)
	return c.put(&entry{out: t, built: true, value: out})
}

func (c *Container) put(e *entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.frozen {
		return fmt.Errorf("%s - register %s: %w", containerLogPrefix, typeName(e.out), ErrFrozen)
	}
	if _, ok := c.entries[e.out]; ok {
		slog.Warn(fmt.Sprintf("%s - replacing provider for %s", containerLogPrefix, typeName(e.out)))
	}
	c.entries[e.out] = e
	return nil
}

// Has reports whether t can be resolved.
func (c *Container) Has(t reflect.Type) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.entries[t]
	return ok
}

// Freeze ends the registration phase. It fails if the constructor graph
// contains a cycle or a constructor needs a type nobody provides.
func (c *Container) Freeze() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	const (
		visiting = 1
		done     = 2
	)
	state := make(map[reflect.Type]int, len(c.entries))
	var visit func(t reflect.Type, path []string) error
	visit = func(t reflect.Type, path []string) error {
		e, ok := c.entries[t]
		if !ok {
			return &ResolveError{Target: typeName(t), Err: ErrMissing}
		}
		switch state[t] {
		case visiting:
			return &ResolveError{Target: fmt.Sprint(append(path, typeName(t))), Err: ErrCycle}
		case done:
			return nil
		}
		state[t] = visiting
		if e.ctor.IsValid() {
			ft := e.ctor.Type()
			for i := 0; i < ft.NumIn(); i++ {
				if ft.In(i) == contextType {
					continue
				}
				if err := visit(ft.In(i), append(path, typeName(t))); err != nil {
					return err
				}
			}
		}
		state[t] = done
		return nil
	}
	for t := range c.entries {
		if err := visit(t, nil); err != nil {
			return fmt.Errorf("%s - freeze: %w", containerLogPrefix, err)
		}
	}
	c.frozen = true
	return nil
}

// Resolve returns the value registered for t.
func (c *Container) Resolve(ctx context.Context, t reflect.Type) (reflect.Value, error) {
	return c.resolve(ctx, t, map[reflect.Type]bool{})
}

func (c *Container) resolve(ctx context.Context, t reflect.Type, inProgress map[reflect.Type]bool) (reflect.Value, error) {
	c.mu.RLock()
	e, ok := c.entries[t]
	c.mu.RUnlock()
	if !ok {
		return reflect.Value{}, &ResolveError{Target: typeName(t), Err: ErrMissing}
	}
	if inProgress[t] {
		return reflect.Value{}, &ResolveError{Target: typeName(t), Err: ErrCycle}
	}
	inProgress[t] = true
	defer delete(inProgress, t)

	if e.lifetime == Transient && e.ctor.IsValid() {
		return c.construct(ctx, e, inProgress)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.built {
		return e.value, nil
	}
	v, err := c.construct(ctx, e, inProgress)
	if err != nil {
		return reflect.Value{}, err
	}
	e.value = v
	e.built = true
	return v, nil
}

func (c *Container) construct(ctx context.Context, e *entry, inProgress map[reflect.Type]bool) (reflect.Value, error) {
	ft := e.ctor.Type()
	args := make([]reflect.Value, ft.NumIn())
	for i := range args {
		in := ft.In(i)
		if in == contextType {
			args[i] = reflect.ValueOf(&ctx).Elem()
			continue
		}
		v, err := c.resolve(ctx, in, inProgress)
		if err != nil {
			return reflect.Value{}, err
		}
		args[i] = v
	}
	out := e.ctor.Call(args)
	if e.hasErr && !out[1].IsNil() {
		return reflect.Value{}, &ResolveError{Target: typeName(e.out), Err: out[1].Interface().(error)}
	}
	return out[0], nil
}

// Get resolves T from c.
func Get[T any](ctx context.Context, c *Container) (T, error) {
	var zero T
	v, err := c.Resolve(ctx, reflect.TypeOf((*T)(nil)).Elem())
	if err != nil {
		return zero, err
	}
	out, _ := v.Interface().(T)
	return out, nil
}
