// Package cast converts decoded payloads into handler input types and
// handler results back into payloads.
package cast

import (
	"encoding"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

const logPrefix = "cast:cast"

// UnsupportedError reports a conversion the cast does not know.
type UnsupportedError struct {
	msg string
}

func (e *UnsupportedError) Error() string { return e.msg }

// ErrUnsupported is the UnsupportedError returned by every cast.
var ErrUnsupported error = &UnsupportedError{msg: "unsupported conversion"}

// Cast converts between a codec's payload type T and handler types.
type Cast[T any] interface {
	ToModel(payload T, target reflect.Type) (any, error)
	FromModel(v any) (T, error)
}

// Document is the payload of the structured framings.
type Document = map[string]any

// Identity passes values through unchanged. Handlers must take and return T.
type Identity[T any] struct{}

// ToModel implements Cast.
func (Identity[T]) ToModel(payload T, target reflect.Type) (any, error) {
	if target != nil && !reflect.TypeOf(&payload).Elem().AssignableTo(target) {
		return nil, fmt.Errorf("%s - %T to %s: %w", logPrefix, payload, target, ErrUnsupported)
	}
	return payload, nil
}

// FromModel implements Cast.
func (Identity[T]) FromModel(v any) (T, error) {
	var zero T
	if v == nil {
		return zero, nil
	}
	out, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("%s - %T to %T: %w", logPrefix, v, zero, ErrUnsupported)
	}
	return out, nil
}

// String converts text payloads. Strings and byte slices pass through,
// encoding.TextUnmarshaler targets parse the text, anything else is read
// as JSON.
type String struct{}

var textUnmarshalerType = reflect.TypeOf((*encoding.TextUnmarshaler)(nil)).Elem()

// ToModel implements Cast.
func (String) ToModel(payload string, target reflect.Type) (any, error) {
	if target == nil {
		return payload, nil
	}
	switch {
	case target.Kind() == reflect.String:
		return reflect.ValueOf(payload).Convert(target).Interface(), nil
	case target.Kind() == reflect.Slice && target.Elem().Kind() == reflect.Uint8:
		return reflect.ValueOf([]byte(payload)).Convert(target).Interface(), nil
	case reflect.PointerTo(target).Implements(textUnmarshalerType):
		ptr := reflect.New(target)
		if err := ptr.Interface().(encoding.TextUnmarshaler).UnmarshalText([]byte(payload)); err != nil {
			return nil, fmt.Errorf("%s - %s: %w", logPrefix, target, err)
		}
		return ptr.Elem().Interface(), nil
	}
	ptr := reflect.New(target)
	if err := json.Unmarshal([]byte(payload), ptr.Interface()); err != nil {
		return nil, fmt.Errorf("%s - %s: %w", logPrefix, target, err)
	}
	return ptr.Elem().Interface(), nil
}

// FromModel implements Cast.
func (String) FromModel(v any) (string, error) {
	switch x := v.(type) {
	case nil:
		return "", nil
	case string:
		return x, nil
	case []byte:
		return string(x), nil
	case encoding.TextMarshaler:
		b, err := x.MarshalText()
		if err != nil {
			return "", fmt.Errorf("%s - %T: %w", logPrefix, v, err)
		}
		return string(b), nil
	case fmt.Stringer:
		return x.String(), nil
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.String {
		return rv.String(), nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("%s - %T: %w", logPrefix, v, err)
	}
	return string(b), nil
}

// JSON converts documents to structs and back through their JSON tags.
type JSON struct{}

// ToModel implements Cast.
func (JSON) ToModel(payload Document, target reflect.Type) (any, error) {
	return remarshal(payload, target, json.Marshal, json.Unmarshal)
}

// FromModel implements Cast.
func (JSON) FromModel(v any) (Document, error) {
	return toDocument(v, json.Marshal, json.Unmarshal)
}

// CBOR converts documents to structs and back through CBOR, honouring
// cbor and json struct tags.
type CBOR struct{}

// ToModel implements Cast.
func (CBOR) ToModel(payload Document, target reflect.Type) (any, error) {
	return remarshal(payload, target, cbor.Marshal, cbor.Unmarshal)
}

// FromModel implements Cast.
func (CBOR) FromModel(v any) (Document, error) {
	return toDocument(v, cbor.Marshal, cbor.Unmarshal)
}

type marshalFunc func(any) ([]byte, error)

type unmarshalFunc func([]byte, any) error

func remarshal(payload Document, target reflect.Type, marshal marshalFunc, unmarshal unmarshalFunc) (any, error) {
	if target == nil || reflect.TypeOf(payload).AssignableTo(target) {
		return payload, nil
	}
	data, err := marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%s - encode document: %w", logPrefix, err)
	}
	ptr := reflect.New(target)
	if err := unmarshal(data, ptr.Interface()); err != nil {
		return nil, fmt.Errorf("%s - %s: %w", logPrefix, target, err)
	}
	return ptr.Elem().Interface(), nil
}

func toDocument(v any, marshal marshalFunc, unmarshal unmarshalFunc) (Document, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case Document:
		return x, nil
	}
	data, err := marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%s - %T: %w", logPrefix, v, err)
	}
	var doc Document
	if err := unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%s - %T is not a document: %w", logPrefix, v, errors.Join(ErrUnsupported, err))
	}
	return doc, nil
}
