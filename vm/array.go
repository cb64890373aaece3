package vm

// Array is a mutable, ordered collection of values. It is mutated only
// under the global lock.
type Array struct {
	id       int64
	Elements []Value
}

// NewArray allocates an array holding elems.
func (rt *Runtime) NewArray(elems ...Value) *Array {
	return &Array{id: rt.allocID(), Elements: elems}
}

// ObjectID returns the array's identity.
func (a *Array) ObjectID() int64 { return a.id }

// Len returns the number of elements.
func (a *Array) Len() int { return len(a.Elements) }

// At returns element i, or nil when out of range. Negative indices count
// from the end.
func (a *Array) At(i int) Value {
	if i < 0 {
		i += len(a.Elements)
	}
	if i < 0 || i >= len(a.Elements) {
		return nil
	}
	return a.Elements[i]
}

// Push appends v.
func (a *Array) Push(v Value) { a.Elements = append(a.Elements, v) }

func (a *Array) visitReferents(fn func(Value)) {
	for _, v := range a.Elements {
		fn(v)
	}
}
