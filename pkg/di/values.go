package di

import (
	"reflect"
	"strings"
)

// Values is the per-request context consulted before any provider runs.
// Entries are found by type, and by name for fields of In structs.
type Values struct {
	byName map[string]reflect.Value
	byType map[reflect.Type]reflect.Value
}

// NewValues creates an empty Values.
func NewValues() *Values {
	return &Values{
		byName: make(map[string]reflect.Value),
		byType: make(map[reflect.Type]reflect.Value),
	}
}

// Set stores v under name and under its dynamic type. An empty name stores
// by type only.
func (vs *Values) Set(name string, v any) {
	if v == nil {
		return
	}
	rv := reflect.ValueOf(v)
	if name != "" {
		vs.byName[strings.ToLower(name)] = rv
	}
	vs.byType[rv.Type()] = rv
}

// SetAs stores v under type t, typically an interface type.
func (vs *Values) SetAs(t reflect.Type, v any) {
	rv := reflect.ValueOf(v)
	if v == nil || !rv.Type().AssignableTo(t) {
		return
	}
	out := reflect.New(t).Elem()
	out.Set(rv)
	vs.byType[t] = out
}

// SetName stores v under name only. Route placeholder values are stored this
// way so that every string-typed field does not match them.
func (vs *Values) SetName(name string, v any) {
	if v == nil {
		return
	}
	vs.byName[strings.ToLower(name)] = reflect.ValueOf(v)
}

func (vs *Values) lookupType(t reflect.Type) (reflect.Value, bool) {
	if vs == nil {
		return reflect.Value{}, false
	}
	v, ok := vs.byType[t]
	return v, ok
}

// lookupName matches field names case-insensitively and requires the value
// to be assignable to t.
func (vs *Values) lookupName(name string, t reflect.Type) (reflect.Value, bool) {
	if vs == nil {
		return reflect.Value{}, false
	}
	v, ok := vs.byName[strings.ToLower(name)]
	if !ok || !v.Type().AssignableTo(t) {
		return reflect.Value{}, false
	}
	return v, true
}
