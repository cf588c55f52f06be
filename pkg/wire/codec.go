// Package wire implements the message framings understood by the server:
// colon-delimited text frames tagged with "serveAPI:" and structured documents
// carrying a reserved "_route" key.
package wire

const logPrefix = "wire:codec"

// Prefix is the literal tag every text frame starts with.
const Prefix = "serveAPI:"

// Separator delimits the fields of a text frame.
const Separator = ':'

// Reserved document keys.
const (
	RouteKey = "_route"
	IDKey    = "_id"
)

// DecodeError is a frame that failed one of the decode checks.
type DecodeError struct {
	reason string
}

func (e *DecodeError) Error() string { return e.reason }

// Decode conditions. Each is distinct so callers can tell which check failed.
var (
	ErrMissingPrefix     = &DecodeError{"missing serveAPI: prefix"}
	ErrMissingSeparator  = &DecodeError{"missing field separator"}
	ErrInvalidUTF8       = &DecodeError{"invalid UTF-8"}
	ErrEmptyPayload      = &DecodeError{"empty payload"}
	ErrHashMismatch      = &DecodeError{"payload hash mismatch"}
	ErrMissingRoute      = &DecodeError{"document has no _route field"}
	ErrMalformedDocument = &DecodeError{"malformed document"}
)

// Message is a decoded frame. ID is empty unless the framing carries one.
type Message[T any] struct {
	ID      string
	Route   string
	Payload T
}

// Codec decodes inbound frames and encodes outbound payloads.
type Codec[T any] interface {
	Decode(data []byte) (Message[T], error)
	Encode(payload T) ([]byte, error)
}

// Intrusive is a framing whose route lives inside the serialized payload. The
// whole input is deserialized first, then Parse extracts and strips the route.
type Intrusive[T any] struct {
	Marshal   func(T) ([]byte, error)
	Unmarshal func([]byte) (T, error)
	Parse     func(T) (Message[T], error)
}

// Decode implements Codec.
func (c Intrusive[T]) Decode(data []byte) (Message[T], error) {
	v, err := c.Unmarshal(data)
	if err != nil {
		return Message[T]{}, err
	}
	return c.Parse(v)
}

// Encode implements Codec.
func (c Intrusive[T]) Encode(payload T) ([]byte, error) {
	return c.Marshal(payload)
}

// NonIntrusive is a framing whose route lives in a header in front of the
// serialized payload. Split separates the header before deserialization.
type NonIntrusive[T any] struct {
	Marshal   func(T) ([]byte, error)
	Unmarshal func([]byte) (T, error)
	Split     func([]byte) (route string, payload []byte, err error)
}

// Decode implements Codec.
func (c NonIntrusive[T]) Decode(data []byte) (Message[T], error) {
	route, raw, err := c.Split(data)
	if err != nil {
		return Message[T]{}, err
	}
	v, err := c.Unmarshal(raw)
	if err != nil {
		return Message[T]{}, err
	}
	return Message[T]{Route: route, Payload: v}, nil
}

// Encode implements Codec.
func (c NonIntrusive[T]) Encode(payload T) ([]byte, error) {
	return c.Marshal(payload)
}
