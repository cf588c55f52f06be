package wire

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/minio/sha256-simd"
)

// NewSimpleString frames text as serveAPI:<route>:<payload>.
func NewSimpleString() Codec[string] {
	return Intrusive[string]{
		Marshal:   marshalString,
		Unmarshal: unmarshalString,
		Parse:     ParseSimple,
	}
}

// NewIDString frames text as serveAPI:<id>:<route>:<payload>.
func NewIDString() Codec[string] {
	return Intrusive[string]{
		Marshal:   marshalString,
		Unmarshal: unmarshalString,
		Parse:     ParseID,
	}
}

// NewHashedString frames text as serveAPI:<sha256>:<route>:<payload> and
// rejects frames whose payload does not match the hash.
func NewHashedString() Codec[string] {
	return Intrusive[string]{
		Marshal:   marshalString,
		Unmarshal: unmarshalString,
		Parse:     ParseHashed,
	}
}

// NewHeaderString frames text as serveAPI:<route>:<payload>, splitting the
// header on raw bytes before the payload is decoded.
func NewHeaderString() Codec[string] {
	return NonIntrusive[string]{
		Marshal:   marshalString,
		Unmarshal: unmarshalString,
		Split:     SplitHeader,
	}
}

// SimpleHeader builds a frame understood by NewSimpleString and NewHeaderString.
func SimpleHeader(route, payload string) string {
	return Prefix + route + string(Separator) + payload
}

// IDHeader builds a frame understood by NewIDString.
func IDHeader(id, route, payload string) string {
	return Prefix + id + string(Separator) + route + string(Separator) + payload
}

// HashedHeader builds a frame understood by NewHashedString.
func HashedHeader(route, payload string) string {
	return Prefix + Hash(payload) + string(Separator) + route + string(Separator) + payload
}

// Hash returns the hex encoded SHA-256 of payload.
func Hash(payload string) string {
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

// ParseSimple parses serveAPI:<route>:<payload>. The payload may contain colons.
func ParseSimple(s string) (Message[string], error) {
	rest, err := trimPrefix(s)
	if err != nil {
		return Message[string]{}, err
	}
	route, payload, ok := strings.Cut(rest, string(Separator))
	if !ok {
		return Message[string]{}, fmt.Errorf("%s - route: %w", logPrefix, ErrMissingSeparator)
	}
	if payload == "" {
		return Message[string]{}, fmt.Errorf("%s - route %q: %w", logPrefix, route, ErrEmptyPayload)
	}
	return Message[string]{Route: route, Payload: payload}, nil
}

// ParseID parses serveAPI:<id>:<route>:<payload>.
func ParseID(s string) (Message[string], error) {
	id, route, payload, err := splitThree(s)
	if err != nil {
		return Message[string]{}, err
	}
	return Message[string]{ID: id, Route: route, Payload: payload}, nil
}

// ParseHashed parses serveAPI:<sha256>:<route>:<payload> and verifies the hash.
func ParseHashed(s string) (Message[string], error) {
	hash, route, payload, err := splitThree(s)
	if err != nil {
		return Message[string]{}, err
	}
	if Hash(payload) != hash {
		return Message[string]{}, fmt.Errorf("%s - route %q: %w", logPrefix, route, ErrHashMismatch)
	}
	return Message[string]{Route: route, Payload: payload}, nil
}

// SplitHeader splits serveAPI:<route>:<payload> on raw bytes.
func SplitHeader(data []byte) (string, []byte, error) {
	if !bytes.HasPrefix(data, []byte(Prefix)) {
		return "", nil, fmt.Errorf("%s - %w", logPrefix, ErrMissingPrefix)
	}
	rest := data[len(Prefix):]
	idx := bytes.IndexByte(rest, Separator)
	if idx < 0 {
		return "", nil, fmt.Errorf("%s - route: %w", logPrefix, ErrMissingSeparator)
	}
	routeBytes := rest[:idx]
	if !utf8.Valid(routeBytes) {
		return "", nil, fmt.Errorf("%s - route: %w", logPrefix, ErrInvalidUTF8)
	}
	payload := rest[idx+1:]
	if len(payload) == 0 {
		return "", nil, fmt.Errorf("%s - route %q: %w", logPrefix, routeBytes, ErrEmptyPayload)
	}
	return string(routeBytes), payload, nil
}

func splitThree(s string) (first, route, payload string, err error) {
	rest, err := trimPrefix(s)
	if err != nil {
		return "", "", "", err
	}
	parts := strings.SplitN(rest, string(Separator), 3)
	if len(parts) < 3 {
		return "", "", "", fmt.Errorf("%s - expected 3 fields after prefix, got %d: %w", logPrefix, len(parts), ErrMissingSeparator)
	}
	if parts[2] == "" {
		return "", "", "", fmt.Errorf("%s - route %q: %w", logPrefix, parts[1], ErrEmptyPayload)
	}
	return parts[0], parts[1], parts[2], nil
}

func trimPrefix(s string) (string, error) {
	if !strings.HasPrefix(s, Prefix) {
		return "", fmt.Errorf("%s - %w", logPrefix, ErrMissingPrefix)
	}
	return s[len(Prefix):], nil
}

func marshalString(s string) ([]byte, error) {
	return []byte(s), nil
}

func unmarshalString(data []byte) (string, error) {
	if !utf8.Valid(data) {
		return "", fmt.Errorf("%s - %w", logPrefix, ErrInvalidUTF8)
	}
	return string(data), nil
}
