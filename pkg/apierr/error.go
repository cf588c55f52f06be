package apierr

import (
	"errors"
	"fmt"
)

// Error is a pipeline failure tagged with the stage that produced it. The
// underlying cause is kept for diagnostics and is reachable through Unwrap.
type Error struct {
	Kind  Kind
	Msg   string
	Cause error
}

func (e *Error) Error() string {
	if e.Msg == "" && e.Cause != nil {
		return e.Cause.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Cause }

// New creates an error of the given kind without a cause.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap tags cause with kind. A nil cause returns nil.
func Wrap(kind Kind, cause error, msg string) error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: msg, Cause: cause}
}

// KindOf returns the kind of the outermost *Error in err's chain.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return Framework, false
}

// IsKind reports whether the outermost *Error in err's chain is kind or one of
// its descendants.
func IsKind(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k.IsA(kind)
}
