package apierr

import (
	"errors"
	"reflect"

	"github.com/muir/reflectutils"
)

// Category selects the errors an exception handler is registered for.
// Depth orders categories by specificity: a deeper category is more specialised.
type Category interface {
	Name() string
	Match(err error) bool
	Depth() int
}

type kindCategory struct {
	kind Kind
}

// KindCategory returns the category of a framework kind and its descendants.
func KindCategory(kind Kind) Category {
	return kindCategory{kind: kind}
}

func (c kindCategory) Name() string { return c.kind.String() }
func (c kindCategory) Depth() int   { return c.kind.Depth() }

func (c kindCategory) Match(err error) bool {
	return IsKind(err, c.kind)
}

// CatchAll is the category of the mandatory fallback handler.
var CatchAll = KindCategory(Unhandled)

type sentinelCategory struct {
	sentinel error
	parent   Category
}

// Is declares a category for errors matching sentinel (errors.Is), nested
// under parent. A nil parent places the category directly under Framework.
func Is(sentinel error, parent Category) Category {
	return sentinelCategory{sentinel: sentinel, parent: parent}
}

func (c sentinelCategory) Name() string { return c.sentinel.Error() }

func (c sentinelCategory) Depth() int { return parentDepth(c.parent) + 1 }

func (c sentinelCategory) Match(err error) bool {
	if c.parent != nil && !c.parent.Match(err) {
		return false
	}
	return errors.Is(err, c.sentinel)
}

type typeCategory[E error] struct {
	parent Category
}

// As declares a category for errors of type E anywhere in the chain
// (errors.As), nested under parent.
func As[E error](parent Category) Category {
	return typeCategory[E]{parent: parent}
}

func (c typeCategory[E]) Name() string {
	return reflectutils.TypeName(reflect.TypeOf((*E)(nil)).Elem())
}

func (c typeCategory[E]) Depth() int { return parentDepth(c.parent) + 1 }

func (c typeCategory[E]) Match(err error) bool {
	if c.parent != nil && !c.parent.Match(err) {
		return false
	}
	var target E
	return errors.As(err, &target)
}

func parentDepth(p Category) int {
	if p == nil {
		return Framework.Depth()
	}
	return p.Depth()
}
