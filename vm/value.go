package vm

import (
	"fmt"
	"strconv"
)

// Value is any language-level value.
//
// Values fall into representation categories:
//   - Unboxed: nil, bool, int64 (Fixnum), float64 (Float), *Symbol and
//     string. They have no object identity and inline caches guard them by
//     category tag alone.
//   - Boxed: heap objects implementing HeapObject (*Object, *Module,
//     *Array, *Proc). Caches guard them by shape and class.
type Value = any

// HeapObject is a boxed value with identity. The set of implementations is
// closed: referents are only visible to the object graph walker.
type HeapObject interface {
	// ObjectID returns the runtime-unique identity of the object.
	ObjectID() int64

	visitReferents(fn func(Value))
}

// Category is the representation tag of a value.
type Category uint8

const (
	CategoryNil Category = iota
	CategoryTrue
	CategoryFalse
	CategoryFixnum
	CategoryFloat
	CategorySymbol
	CategoryString
	CategoryBoxed
)

var categoryNames = [...]string{
	CategoryNil:    "nil",
	CategoryTrue:   "true",
	CategoryFalse:  "false",
	CategoryFixnum: "fixnum",
	CategoryFloat:  "float",
	CategorySymbol: "symbol",
	CategoryString: "string",
	CategoryBoxed:  "boxed",
}

func (c Category) String() string {
	if int(c) < len(categoryNames) {
		return categoryNames[c]
	}
	return "category(" + strconv.Itoa(int(c)) + ")"
}

// Unboxed reports whether values of this category carry no identity.
func (c Category) Unboxed() bool {
	return c != CategoryBoxed
}

// CategoryOf returns the representation category of v.
func CategoryOf(v Value) Category {
	switch x := v.(type) {
	case nil:
		return CategoryNil
	case bool:
		if x {
			return CategoryTrue
		}
		return CategoryFalse
	case int64:
		return CategoryFixnum
	case float64:
		return CategoryFloat
	case *Symbol:
		return CategorySymbol
	case string:
		return CategoryString
	default:
		return CategoryBoxed
	}
}

// Truthy reports whether v counts as true in a condition. Only nil and
// false are falsy.
func Truthy(v Value) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	default:
		return true
	}
}

// Inspect renders v for error messages and debugging output.
func Inspect(v Value) string {
	switch x := v.(type) {
	case nil:
		return "nil"
	case bool:
		return strconv.FormatBool(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case *Symbol:
		return ":" + x.Name()
	case string:
		return strconv.Quote(x)
	case *Module:
		return x.Name()
	case *Object:
		return fmt.Sprintf("#<%s:%d>", x.Class().Name(), x.ObjectID())
	case *Array:
		return fmt.Sprintf("#<Array:%d size=%d>", x.ObjectID(), x.Len())
	case *Proc:
		return fmt.Sprintf("#<Proc:%d>", x.ObjectID())
	default:
		return fmt.Sprintf("%v", x)
	}
}

// Identical reports reference identity for boxed values and value equality
// for unboxed ones.
func Identical(a, b Value) bool {
	ca, cb := CategoryOf(a), CategoryOf(b)
	if ca != cb {
		return false
	}
	if ca == CategoryBoxed {
		ha, okA := a.(HeapObject)
		hb, okB := b.(HeapObject)
		if okA && okB {
			return ha.ObjectID() == hb.ObjectID()
		}
		return false
	}
	return a == b
}
