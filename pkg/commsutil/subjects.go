package commsutil

import (
	"fmt"
	"strings"
)

// Default COMMS subjects.
const (
	SubjectRequests = "serveapi.requests"
	SubjectOutcome  = "serveapi.outcome"
)

// Outcome statuses used as the last subject token.
const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)

// BuildRequestSubject builds the subject a service receives requests on.
func BuildRequestSubject(service string) string {
	if service == "" {
		return SubjectRequests
	}
	return fmt.Sprintf("serveapi.%s.requests", Token(service))
}

// BuildOutcomeSubject builds a granular outcome event subject.
func BuildOutcomeSubject(service, route, status string) string {
	return fmt.Sprintf("%s.%s.%s.%s", SubjectOutcome, Token(service), RouteToken(route), status)
}

// RouteToken turns a route into a single subject token: slashes become
// underscores and placeholders lose their braces.
func RouteToken(route string) string {
	trimmed := strings.Trim(route, "/")
	if trimmed == "" {
		return "root"
	}
	return Token(strings.ReplaceAll(trimmed, "/", "_"))
}

// Token replaces every character that is not allowed inside a subject
// token with an underscore and drops placeholder braces.
func Token(s string) string {
	if s == "" {
		return "_"
	}
	var b strings.Builder
	for _, r := range s {
		switch {
		case r == '{' || r == '}':
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return "_"
	}
	return b.String()
}
