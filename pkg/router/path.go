package router

import (
	"fmt"
	"strings"
)

// Placeholder is the erased form of a {name} segment in a normalised pattern.
const Placeholder = "{}"

// PathValidationError reports a pattern containing characters outside
// [A-Za-z0-9_/{}] or a malformed placeholder.
type PathValidationError struct {
	Pattern string
	Segment string
}

func (e *PathValidationError) Error() string {
	return fmt.Sprintf("invalid path %q: segment %q", e.Pattern, e.Segment)
}

// Normalize wraps path in leading and trailing slashes, drops empty
// segments and erases every {placeholder} to {}. It returns the normalised
// key and the text inside each placeholder, in order.
func Normalize(path string) (string, []string) {
	segments := split(path)
	var names []string
	var b strings.Builder
	b.WriteByte('/')
	for _, seg := range segments {
		if isPlaceholder(seg) {
			names = append(names, seg[1:len(seg)-1])
			seg = Placeholder
		}
		b.WriteString(seg)
		b.WriteByte('/')
	}
	return b.String(), names
}

// Validate checks a route pattern and returns its placeholder names.
func Validate(pattern string) ([]string, error) {
	var names []string
	for _, seg := range split(pattern) {
		if !validChars(seg) {
			return nil, &PathValidationError{Pattern: pattern, Segment: seg}
		}
		if strings.ContainsAny(seg, "{}") {
			if !isPlaceholder(seg) || strings.ContainsAny(seg[1:len(seg)-1], "{}") || len(seg) == 2 {
				return nil, &PathValidationError{Pattern: pattern, Segment: seg}
			}
			names = append(names, seg[1:len(seg)-1])
		}
	}
	return names, nil
}

func split(path string) []string {
	parts := strings.Split(path, "/")
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func isPlaceholder(seg string) bool {
	return len(seg) >= 2 && seg[0] == '{' && seg[len(seg)-1] == '}'
}

func validChars(seg string) bool {
	for i := 0; i < len(seg); i++ {
		c := seg[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '_', c == '{', c == '}':
		default:
			return false
		}
	}
	return true
}
