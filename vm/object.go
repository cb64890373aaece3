package vm

import "fmt"

// Object is a heap-allocated instance whose fields are laid out by a Shape.
//
// Objects use a hybrid slot layout optimized for common cases:
//   - 4 inline slots for objects with ≤4 instance variables (most objects)
//   - Overflow slice for objects with >4 instance variables
//
// An object that had a field removed, or grew past the shape table's field
// limit, switches to dictionary mode: its shape becomes the dictionary
// sentinel and fields live in a map.
type Object struct {
	id        int64
	class     *Module
	singleton *Module
	shape     *Shape

	// Inline slots for the first 4 fields.
	slot0 Value
	slot1 Value
	slot2 Value
	slot3 Value

	// Overflow for objects with >4 fields. Only allocated when needed.
	overflow []Value
	size     int

	// Dictionary mode storage.
	fields     map[string]Value
	fieldOrder []string
}

// NumInlineSlots is the number of slots stored directly in the Object struct.
const NumInlineSlots = 4

// ObjectID returns the object's identity.
func (obj *Object) ObjectID() int64 { return obj.id }

// Class returns the object's class, ignoring any singleton class.
func (obj *Object) Class() *Module { return obj.class }

// dispatchClass returns the class method lookup starts from.
func (obj *Object) dispatchClass() *Module {
	if obj.singleton != nil {
		return obj.singleton
	}
	return obj.class
}

// Shape returns the object's current shape. It may be obsolete until the
// next field access migrates the object.
func (obj *Object) Shape() *Shape { return obj.shape }

// NumSlots returns the number of slots in use.
func (obj *Object) NumSlots() int { return obj.size }

// IsDictionary reports whether the object stores fields in a map.
func (obj *Object) IsDictionary() bool { return obj.fields != nil }

// ---------------------------------------------------------------------------
// Slot access
// ---------------------------------------------------------------------------

// GetSlot returns the value at the given slot index.
// Panics if index is out of range.
func (obj *Object) GetSlot(index int) Value {
	if index < 0 || index >= obj.size {
		panic(&ShapeInconsistencyError{Shape: obj.shape, Index: index, Reason: "slot index out of range"})
	}
	switch index {
	case 0:
		return obj.slot0
	case 1:
		return obj.slot1
	case 2:
		return obj.slot2
	case 3:
		return obj.slot3
	default:
		return obj.overflow[index-NumInlineSlots]
	}
}

// SetSlot sets the value at the given slot index.
// Panics if index is out of range.
func (obj *Object) SetSlot(index int, value Value) {
	if index < 0 || index >= obj.size {
		panic(&ShapeInconsistencyError{Shape: obj.shape, Index: index, Reason: "slot index out of range"})
	}
	switch index {
	case 0:
		obj.slot0 = value
	case 1:
		obj.slot1 = value
	case 2:
		obj.slot2 = value
	case 3:
		obj.slot3 = value
	default:
		obj.overflow[index-NumInlineSlots] = value
	}
}

func (obj *Object) appendSlot(value Value) {
	obj.size++
	if obj.size > NumInlineSlots {
		obj.overflow = append(obj.overflow, nil)
	}
	obj.SetSlot(obj.size-1, value)
}

// ForEachSlot calls fn for each slot in use, in slot order.
func (obj *Object) ForEachSlot(fn func(index int, value Value)) {
	for i := 0; i < obj.size; i++ {
		fn(i, obj.GetSlot(i))
	}
}

// FieldNames returns the names of the object's fields in definition order.
func (obj *Object) FieldNames() []string {
	if obj.fields != nil {
		out := make([]string, len(obj.fieldOrder))
		copy(out, obj.fieldOrder)
		return out
	}
	out := make([]string, 0, len(obj.shape.fields))
	for _, f := range obj.shape.fields {
		out = append(out, f.Name)
	}
	return out
}

func (obj *Object) visitReferents(fn func(Value)) {
	if obj.class != nil {
		fn(obj.class)
	}
	if obj.singleton != nil {
		fn(obj.singleton)
	}
	for i := 0; i < obj.size; i++ {
		fn(obj.GetSlot(i))
	}
	for _, name := range obj.fieldOrder {
		fn(obj.fields[name])
	}
}

func (obj *Object) String() string {
	return fmt.Sprintf("#<%s:%d>", obj.class.Name(), obj.id)
}

// ---------------------------------------------------------------------------
// Field access through the shape table
// ---------------------------------------------------------------------------

// NewObject allocates an instance of class on the root shape.
func (rt *Runtime) NewObject(class *Module) *Object {
	return &Object{
		id:    rt.allocID(),
		class: class,
		shape: rt.Shapes.Root(),
	}
}

// fieldHolder returns the Object carrying v's fields, if any.
func fieldHolder(v Value) *Object {
	switch x := v.(type) {
	case *Object:
		return x
	case *Module:
		return &x.Object
	default:
		return nil
	}
}

// currentShape migrates obj off an obsolete shape and returns its shape.
func (rt *Runtime) currentShape(obj *Object) *Shape {
	if !obj.shape.IsValid() {
		obj.shape = rt.Shapes.Migrate(obj.shape)
	}
	return obj.shape
}

// ReadField returns the value of field name and whether it is present.
func (rt *Runtime) ReadField(obj *Object, name string) (Value, bool) {
	if obj.fields != nil {
		v, ok := obj.fields[name]
		return v, ok
	}
	shape := rt.currentShape(obj)
	desc, ok := rt.Shapes.FindSlot(shape, name)
	if !ok {
		return nil, false
	}
	return obj.GetSlot(desc.Index), true
}

// WriteField stores value in field name, adding the field or generalizing
// its storage kind as needed.
func (rt *Runtime) WriteField(obj *Object, name string, value Value) {
	if obj.fields != nil {
		obj.putDictionaryField(name, value)
		return
	}
	shape := rt.currentShape(obj)
	if desc, ok := rt.Shapes.FindSlot(shape, name); ok {
		if !desc.Kind.Accepts(value) {
			intro := shape.introducer(name)
			if intro == nil {
				panic(&ShapeInconsistencyError{Shape: shape, Field: name, Index: desc.Index, Reason: "field has no introducing shape"})
			}
			rt.Shapes.Generalize(intro.parent, name)
			shape = rt.currentShape(obj)
			desc, ok = rt.Shapes.FindSlot(shape, name)
			if !ok || !desc.Kind.Accepts(value) {
				panic(&ShapeInconsistencyError{Shape: shape, Field: name, Index: desc.Index, Reason: "generalization lost field"})
			}
		}
		obj.SetSlot(desc.Index, value)
		return
	}
	if len(shape.fields) >= rt.Shapes.maxFields {
		rt.toDictionary(obj)
		obj.putDictionaryField(name, value)
		return
	}
	next := rt.Shapes.Transition(shape, name, KindOf(value))
	if next.slot.Index != obj.size {
		panic(&ShapeInconsistencyError{Shape: next, Field: name, Index: next.slot.Index, Reason: "transition slot does not follow object size"})
	}
	obj.appendSlot(value)
	obj.shape = next
}

// RemoveField deletes field name and returns its previous value. Removing
// a field moves the object to dictionary mode.
func (rt *Runtime) RemoveField(obj *Object, name string) (Value, bool) {
	if _, ok := rt.ReadField(obj, name); !ok {
		return nil, false
	}
	if obj.fields == nil {
		rt.toDictionary(obj)
	}
	v := obj.fields[name]
	delete(obj.fields, name)
	for i, n := range obj.fieldOrder {
		if n == name {
			obj.fieldOrder = append(obj.fieldOrder[:i], obj.fieldOrder[i+1:]...)
			break
		}
	}
	return v, true
}

func (rt *Runtime) toDictionary(obj *Object) {
	shape := rt.currentShape(obj)
	obj.fields = make(map[string]Value, len(shape.fields)+1)
	obj.fieldOrder = make([]string, 0, len(shape.fields)+1)
	for _, f := range shape.fields {
		obj.fields[f.Name] = obj.GetSlot(f.Index)
		obj.fieldOrder = append(obj.fieldOrder, f.Name)
	}
	obj.slot0, obj.slot1, obj.slot2, obj.slot3 = nil, nil, nil, nil
	obj.overflow = nil
	obj.size = 0
	obj.shape = rt.Shapes.Dictionary()
	rt.Shapes.dictionaries.Add(1)
	shapeLog.Debugf("object %d switched to dictionary storage", obj.id)
}

func (obj *Object) putDictionaryField(name string, value Value) {
	if _, ok := obj.fields[name]; !ok {
		obj.fieldOrder = append(obj.fieldOrder, name)
	}
	obj.fields[name] = value
}
