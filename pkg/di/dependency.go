package di

import (
	"fmt"
	"reflect"
)

// Dependency describes how a value is produced: either a type resolved from
// the Container, or a provider function whose own parameters are resolved
// first.
type Dependency struct {
	out      reflect.Type
	provider reflect.Value
}

// Depends wraps a provider function. The function returns T, (T, error),
// <-chan T (awaited) or only error (a guard producing no value). Its
// parameters are resolved the same way as a handler's.
func Depends(fn any) Dependency {
	d, err := newProviderDependency(fn)
	if err != nil {
		panic(err)
	}
	return d
}

// DependsOn wraps the type T, resolved from the Container.
func DependsOn[T any]() Dependency {
	return DependsType(reflect.TypeOf((*T)(nil)).Elem())
}

// DependsType wraps t, resolved from the Container.
func DependsType(t reflect.Type) Dependency {
	return Dependency{out: t}
}

// Type is the type the dependency produces; nil for guards.
func (d Dependency) Type() reflect.Type { return d.out }

// IsProvider reports whether d wraps a function rather than a type.
func (d Dependency) IsProvider() bool { return d.provider.IsValid() }

func (d Dependency) String() string {
	if d.IsProvider() {
		return "provider " + typeName(d.provider.Type())
	}
	return typeName(d.out)
}

func (d Dependency) key() uintptr {
	if !d.IsProvider() {
		return 0
	}
	return d.provider.Pointer()
}

type outShape int

const (
	outValue outShape = iota
	outValueErr
	outChan
	outErr
)

func newProviderDependency(fn any) (Dependency, error) {
	fv := reflect.ValueOf(fn)
	if fv.Kind() != reflect.Func || fv.IsNil() {
		return Dependency{}, fmt.Errorf("%s - provider %T is not a function: %w", logPrefix, fn, ErrInvalidProvider)
	}
	out, _, err := providerShape(fv.Type())
	if err != nil {
		return Dependency{}, err
	}
	return Dependency{out: out, provider: fv}, nil
}

func providerShape(ft reflect.Type) (reflect.Type, outShape, error) {
	switch {
	case ft.NumOut() == 1 && ft.Out(0) == errorType:
		return nil, outErr, nil
	case ft.NumOut() == 1 && ft.Out(0).Kind() == reflect.Chan && ft.Out(0).ChanDir()&reflect.RecvDir != 0:
		return ft.Out(0).Elem(), outChan, nil
	case ft.NumOut() == 1:
		return ft.Out(0), outValue, nil
	case ft.NumOut() == 2 && ft.Out(1) == errorType:
		return ft.Out(0), outValueErr, nil
	}
	return nil, 0, fmt.Errorf("%s - provider %s must return T, (T, error), <-chan T or error: %w", logPrefix, typeName(ft), ErrInvalidProvider)
}
