package vm

import (
	"sync"
	"testing"
)

func TestShapeTransitionsAreShared(t *testing.T) {
	rt := NewRuntime(DefaultOptions())
	class := rt.DefineClass("Point", nil, nil)

	a := rt.NewObject(class)
	b := rt.NewObject(class)
	for _, obj := range []*Object{a, b} {
		rt.WriteField(obj, "@x", int64(1))
		rt.WriteField(obj, "@y", int64(2))
	}

	if a.Shape() != b.Shape() {
		t.Error("Expected objects with the same field sequence to share a shape")
	}
	if a.Shape().FieldCount() != 2 {
		t.Errorf("Expected 2 fields, got %d", a.Shape().FieldCount())
	}

	c := rt.NewObject(class)
	rt.WriteField(c, "@y", int64(2))
	rt.WriteField(c, "@x", int64(1))
	if c.Shape() == a.Shape() {
		t.Error("Expected a different field order to produce a different shape")
	}

	v, ok := rt.ReadField(c, "@x")
	if !ok || v != int64(1) {
		t.Errorf("Expected @x = 1, got %v (present %v)", v, ok)
	}
	if _, ok := rt.ReadField(c, "@z"); ok {
		t.Error("Expected @z to be absent")
	}
}

func TestShapeRewriteKeepsShape(t *testing.T) {
	rt := NewRuntime(DefaultOptions())
	obj := rt.NewObject(rt.ObjectClass)
	rt.WriteField(obj, "@n", int64(1))
	before := obj.Shape()

	rt.WriteField(obj, "@n", int64(2))
	if obj.Shape() != before {
		t.Error("Expected a same-kind write to keep the shape")
	}
	if v, _ := rt.ReadField(obj, "@n"); v != int64(2) {
		t.Errorf("Expected 2, got %v", v)
	}
}

func TestShapeGeneralization(t *testing.T) {
	rt := NewRuntime(DefaultOptions())
	class := rt.DefineClass("Box", nil, nil)

	a := rt.NewObject(class)
	b := rt.NewObject(class)
	for _, obj := range []*Object{a, b} {
		rt.WriteField(obj, "@v", int64(1))
		rt.WriteField(obj, "@w", int64(2))
	}
	old := a.Shape()
	slots := old.Fields()
	if slots[0].Kind != KindFixnum {
		t.Fatalf("Expected @v to start as fixnum, got %s", slots[0].Kind)
	}

	rt.WriteField(a, "@v", "text")

	if old.IsValid() {
		t.Error("Expected the fixnum layout to be invalidated")
	}
	if a.Shape() == old {
		t.Error("Expected the written object to move to a new shape")
	}
	if k := a.Shape().Fields()[0].Kind; k != KindObject {
		t.Errorf("Expected @v to be generalized to object, got %s", k)
	}
	if v, _ := rt.ReadField(a, "@v"); v != "text" {
		t.Errorf("Expected \"text\", got %v", v)
	}
	if v, _ := rt.ReadField(a, "@w"); v != int64(2) {
		t.Errorf("Expected @w to survive generalization, got %v", v)
	}

	// b still points at the obsolete shape until its next access.
	if b.Shape() != old {
		t.Error("Expected migration to be lazy")
	}
	if v, _ := rt.ReadField(b, "@w"); v != int64(2) {
		t.Errorf("Expected 2, got %v", v)
	}
	if b.Shape() != a.Shape() {
		t.Error("Expected b to migrate onto the generalized shape")
	}

	// New objects follow the generalized transition.
	c := rt.NewObject(class)
	rt.WriteField(c, "@v", int64(5))
	rt.WriteField(c, "@w", int64(6))
	if c.Shape() != a.Shape() {
		t.Error("Expected new objects to use the generalized shape")
	}
}

func TestShapeDictionaryPastMaxFields(t *testing.T) {
	rt := NewRuntime(Options{MaxShapeFields: 3})
	obj := rt.NewObject(rt.ObjectClass)

	names := []string{"@a", "@b", "@c", "@d", "@e"}
	for i, name := range names {
		rt.WriteField(obj, name, int64(i))
	}

	if !obj.IsDictionary() {
		t.Fatal("Expected dictionary storage past the field limit")
	}
	if !obj.Shape().IsDictionary() {
		t.Error("Expected the dictionary sentinel shape")
	}
	for i, name := range names {
		if v, ok := rt.ReadField(obj, name); !ok || v != int64(i) {
			t.Errorf("%s: expected %d, got %v", name, i, v)
		}
	}
	got := obj.FieldNames()
	if len(got) != len(names) {
		t.Fatalf("Expected %d field names, got %v", len(names), got)
	}
	for i := range names {
		if got[i] != names[i] {
			t.Errorf("Expected field order %v, got %v", names, got)
			break
		}
	}
}

func TestShapeRemoveFieldUsesDictionary(t *testing.T) {
	rt := NewRuntime(DefaultOptions())
	obj := rt.NewObject(rt.ObjectClass)
	rt.WriteField(obj, "@a", int64(1))
	rt.WriteField(obj, "@b", int64(2))

	v, ok := rt.RemoveField(obj, "@a")
	if !ok || v != int64(1) {
		t.Errorf("Expected to remove @a = 1, got %v (%v)", v, ok)
	}
	if !obj.IsDictionary() {
		t.Error("Expected dictionary storage after removing a field")
	}
	if _, ok := rt.ReadField(obj, "@a"); ok {
		t.Error("Expected @a to be gone")
	}
	if v, _ := rt.ReadField(obj, "@b"); v != int64(2) {
		t.Errorf("Expected @b = 2, got %v", v)
	}
	if _, ok := rt.RemoveField(obj, "@a"); ok {
		t.Error("Expected removing a missing field to report false")
	}
}

func TestShapeManyInlineAndOverflowSlots(t *testing.T) {
	rt := NewRuntime(DefaultOptions())
	obj := rt.NewObject(rt.ObjectClass)
	for i := 0; i < NumInlineSlots+4; i++ {
		rt.WriteField(obj, string(rune('a'+i)), int64(i))
	}
	if obj.NumSlots() != NumInlineSlots+4 {
		t.Errorf("Expected %d slots, got %d", NumInlineSlots+4, obj.NumSlots())
	}
	for i := 0; i < NumInlineSlots+4; i++ {
		if v := obj.GetSlot(i); v != int64(i) {
			t.Errorf("slot %d: expected %d, got %v", i, i, v)
		}
	}
}

func TestShapeConcurrentTransitions(t *testing.T) {
	st := NewShapeTable(0)
	var wg sync.WaitGroup
	results := make([]*Shape, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s := st.Transition(st.Root(), "@x", KindFixnum)
			results[i] = st.Transition(s, "@y", KindObject)
		}(i)
	}
	wg.Wait()

	for i := 1; i < len(results); i++ {
		if results[i] != results[0] {
			t.Fatal("Expected racing transitions to agree on one shape")
		}
	}
	// root, @x, @y
	if n := st.ShapeCount(); n != 3 {
		t.Errorf("Expected 3 shapes, got %d", n)
	}
}
