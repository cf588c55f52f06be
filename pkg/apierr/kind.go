// Package apierr defines the pipeline error taxonomy and the exception registry
// that turns any failure into a response body.
package apierr

// Kind identifies a framework error category. Kinds form a fixed tree rooted
// at Framework; the depth of a kind in that tree is its specificity.
type Kind int

const (
	Framework Kind = iota
	EncoderDecode
	EncoderEncode
	Router
	RequestMiddleware
	ResponseMiddleware
	TypeCast
	ToModel
	FromModel
	ParamsResolve
	DependencyResolve
	DependencyCycle
	Dispatch
	Cancelled
	Unhandled
)

var kindNames = map[Kind]string{
	Framework:          "ServerAPIException",
	EncoderDecode:      "EncoderDecodeError",
	EncoderEncode:      "EncoderEncodeError",
	Router:             "RouterError",
	RequestMiddleware:  "RequestMiddlewareError",
	ResponseMiddleware: "ResponseMiddlewareError",
	TypeCast:           "TypeCastError",
	ToModel:            "TypeCastToModelError",
	FromModel:          "TypeCastFromModelError",
	ParamsResolve:      "ParamsResolveError",
	DependencyResolve:  "DependencyResolveError",
	DependencyCycle:    "DependencyCycleError",
	Dispatch:           "DispatchError",
	Cancelled:          "ExecutionCancelledError",
	Unhandled:          "UnhandledError",
}

var kindParents = map[Kind]Kind{
	EncoderDecode:      Framework,
	EncoderEncode:      Framework,
	Router:             Framework,
	RequestMiddleware:  Framework,
	ResponseMiddleware: Framework,
	TypeCast:           Framework,
	ToModel:            TypeCast,
	FromModel:          TypeCast,
	ParamsResolve:      Framework,
	DependencyResolve:  Framework,
	DependencyCycle:    DependencyResolve,
	Dispatch:           Framework,
	Cancelled:          Dispatch,
	Unhandled:          Framework,
}

// String returns the category name reported to clients.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "UnknownError"
}

// Parent returns the parent kind. Framework is its own parent.
func (k Kind) Parent() Kind {
	if p, ok := kindParents[k]; ok {
		return p
	}
	return Framework
}

// Depth is the length of the ancestor chain, Framework being 1.
func (k Kind) Depth() int {
	d := 1
	for c := k; c != Framework; c = c.Parent() {
		d++
	}
	return d
}

// IsA reports whether k is other or descends from it.
func (k Kind) IsA(other Kind) bool {
	for c := k; ; c = c.Parent() {
		if c == other {
			return true
		}
		if c == Framework {
			return false
		}
	}
}
