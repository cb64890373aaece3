package vm

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/tliron/commonlog"
)

var shapeLog = commonlog.GetLogger("garnet.shape")

// DefaultMaxShapeFields is the field count past which an object falls back
// to dictionary storage.
const DefaultMaxShapeFields = 64

// StorageKind describes what a field slot is specialized to hold.
type StorageKind uint8

const (
	KindFixnum StorageKind = iota
	KindFloat
	KindObject // any value
)

func (k StorageKind) String() string {
	switch k {
	case KindFixnum:
		return "fixnum"
	case KindFloat:
		return "float"
	default:
		return "object"
	}
}

// Accepts reports whether a slot of this kind can hold v.
func (k StorageKind) Accepts(v Value) bool {
	switch k {
	case KindFixnum:
		_, ok := v.(int64)
		return ok
	case KindFloat:
		_, ok := v.(float64)
		return ok
	default:
		return true
	}
}

// fits reports whether a slot of kind k can take over a slot of kind other
// without losing values.
func (k StorageKind) fits(other StorageKind) bool {
	return k == KindObject || k == other
}

// KindOf returns the narrowest storage kind that holds v.
func KindOf(v Value) StorageKind {
	switch v.(type) {
	case int64:
		return KindFixnum
	case float64:
		return KindFloat
	default:
		return KindObject
	}
}

// SlotDescriptor locates a field inside an object laid out by a shape.
type SlotDescriptor struct {
	Name  string
	Index int
	Kind  StorageKind
}

// ---------------------------------------------------------------------------
// Shape
// ---------------------------------------------------------------------------

// Shape is an immutable object layout: the ordered list of fields and the
// slot each one lives in. Shapes form a tree rooted at the table's root;
// adding a field moves an object to a child shape. Objects that gained the
// same fields in the same order share the same *Shape.
type Shape struct {
	parent     *Shape
	slot       SlotDescriptor // field added by this shape; zero for the root
	fields     []SlotDescriptor
	valid      *Assumption
	dictionary bool

	mu          sync.RWMutex
	transitions map[string]*Shape
}

// Parent returns the shape this one extends, or nil for the root.
func (s *Shape) Parent() *Shape { return s.parent }

// FieldCount returns the number of fields laid out by this shape.
func (s *Shape) FieldCount() int { return len(s.fields) }

// Fields returns a copy of the shape's slot descriptors in slot order.
func (s *Shape) Fields() []SlotDescriptor {
	out := make([]SlotDescriptor, len(s.fields))
	copy(out, s.fields)
	return out
}

// IsValid reports whether the shape is still current. Objects on an
// invalid shape migrate to the current layout on their next field access.
func (s *Shape) IsValid() bool { return s.valid.IsValid() }

// Assumption returns the token invalidated when the shape becomes obsolete.
func (s *Shape) Assumption() *Assumption { return s.valid }

// IsDictionary reports whether this is the dictionary-mode sentinel.
func (s *Shape) IsDictionary() bool { return s.dictionary }

func (s *Shape) String() string {
	if s.dictionary {
		return "Shape(dictionary)"
	}
	return fmt.Sprintf("Shape(%d fields)", len(s.fields))
}

// lookup finds a field in this shape's layout.
func (s *Shape) lookup(name string) (SlotDescriptor, bool) {
	for _, f := range s.fields {
		if f.Name == name {
			return f, true
		}
	}
	return SlotDescriptor{}, false
}

// introducer returns the ancestor (or s itself) whose transition added name.
func (s *Shape) introducer(name string) *Shape {
	for cur := s; cur != nil && cur.parent != nil; cur = cur.parent {
		if cur.slot.Name == name {
			return cur
		}
	}
	return nil
}

func (s *Shape) child(name string) *Shape {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.transitions[name]
}

func (s *Shape) invalidateSubtree() {
	s.valid.Invalidate()
	s.mu.RLock()
	children := make([]*Shape, 0, len(s.transitions))
	for _, c := range s.transitions {
		children = append(children, c)
	}
	s.mu.RUnlock()
	for _, c := range children {
		c.invalidateSubtree()
	}
}

// ---------------------------------------------------------------------------
// ShapeTable
// ---------------------------------------------------------------------------

// ShapeTable owns the shape tree for a runtime. Reads are safe from any
// goroutine; new transitions are published under each parent's lock.
type ShapeTable struct {
	root       *Shape
	dictionary *Shape
	maxFields  int

	created      atomic.Int64
	generalized  atomic.Int64
	dictionaries atomic.Int64
}

// NewShapeTable creates a table with a fresh root shape. maxFields <= 0
// selects DefaultMaxShapeFields.
func NewShapeTable(maxFields int) *ShapeTable {
	if maxFields <= 0 {
		maxFields = DefaultMaxShapeFields
	}
	st := &ShapeTable{
		root:       newShape(nil, SlotDescriptor{}),
		dictionary: &Shape{valid: AlwaysValid, dictionary: true},
		maxFields:  maxFields,
	}
	st.created.Store(1)
	return st
}

func newShape(parent *Shape, slot SlotDescriptor) *Shape {
	s := &Shape{
		parent:      parent,
		slot:        slot,
		valid:       NewAssumption("shape unmodified"),
		transitions: make(map[string]*Shape),
	}
	if parent != nil {
		s.fields = make([]SlotDescriptor, len(parent.fields), len(parent.fields)+1)
		copy(s.fields, parent.fields)
		s.fields = append(s.fields, slot)
	}
	return s
}

// Root returns the empty shape every new object starts with.
func (st *ShapeTable) Root() *Shape { return st.root }

// Dictionary returns the sentinel shape of objects using map storage.
func (st *ShapeTable) Dictionary() *Shape { return st.dictionary }

// MaxFields returns the dictionary-mode threshold.
func (st *ShapeTable) MaxFields() int { return st.maxFields }

// ShapeCount returns how many shapes were ever created.
func (st *ShapeTable) ShapeCount() int64 { return st.created.Load() }

// FindSlot returns the slot descriptor for field in shape.
func (st *ShapeTable) FindSlot(shape *Shape, field string) (SlotDescriptor, bool) {
	if shape.dictionary {
		return SlotDescriptor{}, false
	}
	return shape.lookup(field)
}

// Transition returns the shape reached from shape by adding field with the
// given storage kind. Repeated transitions with the same field name return
// the same child; a child whose kind cannot hold kind is generalized first.
func (st *ShapeTable) Transition(shape *Shape, field string, kind StorageKind) *Shape {
	if next := shape.child(field); next != nil {
		if next.slot.Kind.fits(kind) {
			return next
		}
		return st.Generalize(shape, field)
	}

	candidate := newShape(shape, SlotDescriptor{Name: field, Index: len(shape.fields), Kind: kind})

	shape.mu.Lock()
	// Double-check after acquiring write lock
	if next := shape.transitions[field]; next != nil {
		shape.mu.Unlock()
		if next.slot.Kind.fits(kind) {
			return next
		}
		return st.Generalize(shape, field)
	}
	shape.transitions[field] = candidate
	shape.mu.Unlock()

	st.created.Add(1)
	return candidate
}

// Generalize replaces parent's transition for field with one whose slot
// holds any value. The previous child and everything below it become
// obsolete; objects on those shapes migrate lazily.
func (st *ShapeTable) Generalize(parent *Shape, field string) *Shape {
	parent.mu.Lock()
	old := parent.transitions[field]
	if old != nil && old.slot.Kind == KindObject {
		parent.mu.Unlock()
		return old
	}
	next := newShape(parent, SlotDescriptor{Name: field, Index: len(parent.fields), Kind: KindObject})
	parent.transitions[field] = next
	parent.mu.Unlock()

	st.created.Add(1)
	st.generalized.Add(1)
	if old != nil {
		old.invalidateSubtree()
		shapeLog.Debugf("generalized field %q from %s to object", field, old.slot.Kind)
	}
	return next
}

// Migrate returns the current shape with the same field sequence as the
// obsolete shape. Slot indices are unchanged, so an object migrates by
// swapping its shape pointer.
func (st *ShapeTable) Migrate(shape *Shape) *Shape {
	if shape.dictionary || shape.IsValid() {
		return shape
	}
	cur := st.root
	for _, f := range shape.fields {
		cur = st.Transition(cur, f.Name, f.Kind)
	}
	return cur
}
