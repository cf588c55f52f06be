package di

import (
	"context"
	"fmt"
	"net"
	"reflect"
)

// Role is what an argument slot of a handler receives.
type Role int

const (
	RoleContext Role = iota
	RoleInput
	RoleParams
	RoleAddr
	RoleIn
	RoleDependency
)

func (r Role) String() string {
	switch r {
	case RoleContext:
		return "context"
	case RoleInput:
		return "input"
	case RoleParams:
		return "params"
	case RoleAddr:
		return "address"
	case RoleIn:
		return "in"
	case RoleDependency:
		return "dependency"
	}
	return fmt.Sprintf("Role(%d)", int(r))
}

// Slot is one argument position of an analysed function.
type Slot struct {
	Role Role
	Type reflect.Type
	Dep  Dependency
}

type resultShape int

const (
	resultNone resultShape = iota
	resultValue
	resultValueErr
	resultErr
)

// Plan is the binding plan of a handler, computed once at registration.
type Plan struct {
	fn     reflect.Value
	slots  []Slot
	result resultShape
	deps   []Dependency
	defect error
}

// Analyze inspects fn and assigns a role to each parameter:
//
//   - context.Context receives the request context;
//   - Params receives the route placeholders;
//   - net.Addr receives the peer address;
//   - a struct embedding In has its fields resolved one by one;
//   - a type produced by one of deps is resolved through that dependency;
//   - the first remaining parameter receives the decoded input;
//   - every later parameter is resolved by type.
//
// fn may return nothing, a value, an error, or (value, error). A handler
// declaring Params or net.Addr twice gets a plan whose Err is non-nil; the
// defect is reported when the handler is called, not here.
func Analyze(fn any, deps ...Dependency) (*Plan, error) {
	fv := reflect.ValueOf(fn)
	if fv.Kind() != reflect.Func || fv.IsNil() {
		return nil, fmt.Errorf("%s - handler %T is not a function: %w", logPrefix, fn, ErrInvalidProvider)
	}
	ft := fv.Type()
	if ft.IsVariadic() {
		return nil, fmt.Errorf("%s - handler %s is variadic: %w", logPrefix, typeName(ft), ErrInvalidProvider)
	}

	p := &Plan{fn: fv, deps: deps}
	switch {
	case ft.NumOut() == 0:
		p.result = resultNone
	case ft.NumOut() == 1 && ft.Out(0) == errorType:
		p.result = resultErr
	case ft.NumOut() == 1:
		p.result = resultValue
	case ft.NumOut() == 2 && ft.Out(1) == errorType:
		p.result = resultValueErr
	default:
		return nil, fmt.Errorf("%s - handler %s must return nothing, T, error or (T, error): %w", logPrefix, typeName(ft), ErrInvalidProvider)
	}

	var haveInput, haveParams, haveAddr bool
	for i := 0; i < ft.NumIn(); i++ {
		t := ft.In(i)
		slot := Slot{Type: t}
		switch {
		case t == contextType:
			slot.Role = RoleContext
		case t == paramsType:
			slot.Role = RoleParams
			if haveParams {
				p.defect = fmt.Errorf("%s - %s: more than one Params parameter: %w", logPrefix, typeName(ft), ErrDuplicateRole)
			}
			haveParams = true
		case t == addrType:
			slot.Role = RoleAddr
			if haveAddr {
				p.defect = fmt.Errorf("%s - %s: more than one net.Addr parameter: %w", logPrefix, typeName(ft), ErrDuplicateRole)
			}
			haveAddr = true
		case isInStruct(t):
			slot.Role = RoleIn
		default:
			if d, ok := findDependency(deps, t); ok {
				slot.Role = RoleDependency
				slot.Dep = d
			} else if !haveInput {
				slot.Role = RoleInput
				haveInput = true
			} else {
				slot.Role = RoleDependency
				slot.Dep = DependsType(t)
			}
		}
		p.slots = append(p.slots, slot)
	}
	return p, nil
}

func findDependency(deps []Dependency, t reflect.Type) (Dependency, bool) {
	for i := len(deps) - 1; i >= 0; i-- {
		if deps[i].out == t {
			return deps[i], true
		}
	}
	return Dependency{}, false
}

// Err returns the handler-definition defect found by Analyze, if any.
func (p *Plan) Err() error { return p.defect }

// Slots returns the analysed argument slots.
func (p *Plan) Slots() []Slot { return p.slots }

// Dependencies returns the route-level dependencies the plan was built with.
func (p *Plan) Dependencies() []Dependency { return p.deps }

// InputType is the type of the input slot, or nil when the handler takes no input.
func (p *Plan) InputType() reflect.Type {
	for _, s := range p.slots {
		if s.Role == RoleInput {
			return s.Type
		}
	}
	return nil
}

// Binding carries the per-request values for a Call.
type Binding struct {
	Input    any
	Params   Params
	Addr     net.Addr
	Resolved Resolved
}

// Call invokes the planned function. A nil result with a nil error means
// the handler produced nothing.
func (p *Plan) Call(ctx context.Context, b Binding) (any, error) {
	if p.defect != nil {
		return nil, p.defect
	}
	args := make([]reflect.Value, len(p.slots))
	for i, s := range p.slots {
		switch s.Role {
		case RoleContext:
			args[i] = reflect.ValueOf(&ctx).Elem()
		case RoleParams:
			args[i] = reflect.ValueOf(b.Params)
		case RoleAddr:
			args[i] = valueOf(addrType, b.Addr)
		case RoleInput:
			v, err := assignable(s.Type, b.Input)
			if err != nil {
				return nil, err
			}
			args[i] = v
		case RoleIn, RoleDependency:
			v, ok := b.Resolved[i]
			if !ok {
				return nil, &ResolveError{Target: typeName(s.Type), Err: ErrMissing}
			}
			args[i] = v
		}
	}

	out := p.fn.Call(args)
	switch p.result {
	case resultValue:
		return result(out[0]), nil
	case resultValueErr:
		if !out[1].IsNil() {
			return nil, out[1].Interface().(error)
		}
		return result(out[0]), nil
	case resultErr:
		if !out[0].IsNil() {
			return nil, out[0].Interface().(error)
		}
	}
	return nil, nil
}

func result(v reflect.Value) any {
	switch v.Kind() {
	case reflect.Interface, reflect.Pointer, reflect.Map, reflect.Slice, reflect.Chan, reflect.Func:
		if v.IsNil() {
			return nil
		}
	}
	return v.Interface()
}

func valueOf(t reflect.Type, v any) reflect.Value {
	if v == nil {
		return reflect.Zero(t)
	}
	out := reflect.New(t).Elem()
	out.Set(reflect.ValueOf(v))
	return out
}

func assignable(t reflect.Type, v any) (reflect.Value, error) {
	if v == nil {
		return reflect.Zero(t), nil
	}
	rv := reflect.ValueOf(v)
	switch {
	case rv.Type().AssignableTo(t):
		out := reflect.New(t).Elem()
		out.Set(rv)
		return out, nil
	case rv.Kind() == reflect.Pointer && !rv.IsNil() && rv.Elem().Type().AssignableTo(t):
		return rv.Elem(), nil
	}
	return reflect.Value{}, fmt.Errorf("%s - input %T is not assignable to %s", logPrefix, v, typeName(t))
}
