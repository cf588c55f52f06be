package di

import (
	"context"
	"fmt"
	"reflect"
	"strconv"
	"sync"

	"github.com/muir/reflectutils"
)

// Resolved maps argument slot indexes of a Plan to their resolved values.
type Resolved map[int]reflect.Value

// Resolver produces the dependency arguments of a Plan.
type Resolver struct {
	container *Container

	mu        sync.RWMutex
	named     map[string]Dependency
	overrides map[uintptr]Dependency
}

// NewResolver creates a Resolver backed by c. c may be nil.
func NewResolver(c *Container) *Resolver {
	if c == nil {
		c = NewContainer()
	}
	return &Resolver{
		container: c,
		named:     make(map[string]Dependency),
		overrides: make(map[uintptr]Dependency),
	}
}

// Container returns the backing component registry.
func (r *Resolver) Container() *Container { return r.container }

// Named registers a provider that In fields select with `depends:"name"`.
func (r *Resolver) Named(name string, fn any) error {
	d, err := newProviderDependency(fn)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.named[name] = d
	return nil
}

// Override makes every use of the provider orig call replacement instead.
// Both must produce the same type.
func (r *Resolver) Override(orig, replacement any) error {
	o, err := newProviderDependency(orig)
	if err != nil {
		return err
	}
	n, err := newProviderDependency(replacement)
	if err != nil {
		return err
	}
	if o.out != n.out {
		return fmt.Errorf("%s - override of %s produces %s, want %s: %w", logPrefix, o, typeName(n.out), typeName(o.out), ErrInvalidProvider)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.overrides[o.key()] = n
	return nil
}

// ClearOverrides removes every provider override.
func (r *Resolver) ClearOverrides() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.overrides = make(map[uintptr]Dependency)
}

// Resolve runs the guard dependencies of p and resolves every In and
// dependency slot. Values in vals take precedence over providers; provider
// results are shared within one call.
func (r *Resolver) Resolve(ctx context.Context, p *Plan, vals *Values) (Resolved, error) {
	res := &resolution{
		r:          r,
		ctx:        ctx,
		vals:       vals,
		deps:       p.deps,
		inProgress: make(map[uintptr]bool),
		cache:      make(map[uintptr]reflect.Value),
	}
	for _, d := range p.deps {
		if d.out == nil && d.IsProvider() {
			if _, err := res.provide(d); err != nil {
				return nil, err
			}
		}
	}
	out := make(Resolved)
	for i, s := range p.slots {
		switch s.Role {
		case RoleIn:
			v, err := res.in(s.Type)
			if err != nil {
				return nil, err
			}
			out[i] = v
		case RoleDependency:
			v, err := res.dependency(s.Dep)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
	}
	return out, nil
}

// Invoke resolves the parameters of fn, calls it and awaits its result.
func (r *Resolver) Invoke(ctx context.Context, fn any, vals *Values) (any, error) {
	d, err := newProviderDependency(fn)
	if err != nil {
		return nil, err
	}
	res := &resolution{
		r:          r,
		ctx:        ctx,
		vals:       vals,
		inProgress: make(map[uintptr]bool),
		cache:      make(map[uintptr]reflect.Value),
	}
	v, err := res.provide(d)
	if err != nil || !v.IsValid() {
		return nil, err
	}
	return v.Interface(), nil
}

type resolution struct {
	r          *Resolver
	ctx        context.Context
	vals       *Values
	deps       []Dependency
	inProgress map[uintptr]bool
	cache      map[uintptr]reflect.Value
}

func (res *resolution) dependency(d Dependency) (reflect.Value, error) {
	if d.out != nil {
		if v, ok := res.vals.lookupType(d.out); ok {
			return v, nil
		}
	}
	if !d.IsProvider() {
		return res.r.container.Resolve(res.ctx, d.out)
	}
	return res.provide(d)
}

func (res *resolution) byType(t reflect.Type) (reflect.Value, error) {
	if t == contextType {
		return reflect.ValueOf(&res.ctx).Elem(), nil
	}
	if v, ok := res.vals.lookupType(t); ok {
		return v, nil
	}
	if isInStruct(t) {
		return res.in(t)
	}
	if d, ok := findDependency(res.deps, t); ok {
		return res.provide(d)
	}
	return res.r.container.Resolve(res.ctx, t)
}

func (res *resolution) provide(d Dependency) (reflect.Value, error) {
	res.r.mu.RLock()
	if o, ok := res.r.overrides[d.key()]; ok {
		d = o
	}
	res.r.mu.RUnlock()

	key := d.key()
	if v, ok := res.cache[key]; ok {
		return v, nil
	}
	if res.inProgress[key] {
		return reflect.Value{}, &ResolveError{Target: d.String(), Err: ErrCycle}
	}
	res.inProgress[key] = true
	defer delete(res.inProgress, key)

	ft := d.provider.Type()
	args := make([]reflect.Value, ft.NumIn())
	for i := range args {
		v, err := res.byType(ft.In(i))
		if err != nil {
			return reflect.Value{}, err
		}
		args[i] = v
	}

	_, shape, _ := providerShape(ft)
	out := d.provider.Call(args)
	var v reflect.Value
	switch shape {
	case outValue:
		v = out[0]
	case outValueErr:
		if !out[1].IsNil() {
			return reflect.Value{}, &ResolveError{Target: d.String(), Err: out[1].Interface().(error)}
		}
		v = out[0]
	case outErr:
		if !out[0].IsNil() {
			return reflect.Value{}, &ResolveError{Target: d.String(), Err: out[0].Interface().(error)}
		}
	case outChan:
		awaited, err := res.await(d, out[0])
		if err != nil {
			return reflect.Value{}, err
		}
		v = awaited
	}
	res.cache[key] = v
	return v, nil
}

func (res *resolution) await(d Dependency, ch reflect.Value) (reflect.Value, error) {
	if ch.IsNil() {
		return reflect.Value{}, &ResolveError{Target: d.String(), Err: ErrNotAwaited}
	}
	chosen, v, ok := reflect.Select([]reflect.SelectCase{
		{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(res.ctx.Done())},
		{Dir: reflect.SelectRecv, Chan: ch},
	})
	if chosen == 0 {
		return reflect.Value{}, &ResolveError{Target: d.String(), Err: res.ctx.Err()}
	}
	if !ok {
		return reflect.Value{}, &ResolveError{Target: d.String(), Err: ErrNotAwaited}
	}
	return v, nil
}

func (res *resolution) in(t reflect.Type) (reflect.Value, error) {
	out := reflect.New(t).Elem()
	var firstErr error
	reflectutils.WalkStructElements(t, func(f reflect.StructField) bool {
		if firstErr != nil || f.Anonymous && f.Type == inType || !f.IsExported() {
			return false
		}
		optional, _ := strconv.ParseBool(f.Tag.Get("optional"))
		v, err := res.field(f)
		if err != nil {
			if !optional {
				firstErr = err
			}
			return false
		}
		out.FieldByIndex(f.Index).Set(v)
		return false
	})
	if firstErr != nil {
		return reflect.Value{}, firstErr
	}
	return out, nil
}

func (res *resolution) field(f reflect.StructField) (reflect.Value, error) {
	if name, ok := f.Tag.Lookup("depends"); ok {
		res.r.mu.RLock()
		d, found := res.r.named[name]
		res.r.mu.RUnlock()
		if !found {
			return reflect.Value{}, &ResolveError{Target: fmt.Sprintf("%s (depends %q)", f.Name, name), Err: ErrMissing}
		}
		v, err := res.provide(d)
		if err != nil {
			return reflect.Value{}, err
		}
		if !v.IsValid() || !v.Type().AssignableTo(f.Type) {
			return reflect.Value{}, &ResolveError{Target: fmt.Sprintf("%s (depends %q)", f.Name, name), Err: fmt.Errorf("provider result is not assignable to %s", typeName(f.Type))}
		}
		return v, nil
	}
	if v, ok := res.vals.lookupName(f.Name, f.Type); ok {
		return v, nil
	}
	return res.byType(f.Type)
}
