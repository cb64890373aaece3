package vm

import "sync/atomic"

// DefaultMaxFieldEntries is the number of shapes a field access site caches
// before falling back to uncached access.
const DefaultMaxFieldEntries = 4

// fieldEntry maps a shape seen at a site to the slot the field lives in.
// For write sites, to differs from from when the write adds the field.
type fieldEntry struct {
	from  *Shape
	to    *Shape
	index int // -1: field absent (read sites only)
	kind  StorageKind
}

type fieldSnapshot struct {
	entries     []fieldEntry
	megamorphic bool
}

var emptyFieldSnapshot = &fieldSnapshot{}

// FieldCache is the shape cache of one instance-variable access site.
type FieldCache struct {
	rt         *Runtime
	name       string
	maxEntries int
	snap       atomic.Pointer[fieldSnapshot]

	hits   atomic.Uint64
	misses atomic.Uint64
	values *typeCounts // nil unless Options.Profile
}

func (rt *Runtime) newFieldCache(name string) *FieldCache {
	fc := &FieldCache{rt: rt, name: name, maxEntries: rt.opts.MaxFieldCacheEntries}
	if rt.opts.Profile {
		fc.values = &typeCounts{}
	}
	fc.snap.Store(emptyFieldSnapshot)
	rt.fieldCaches.register(fc)
	return fc
}

// State returns the cache's state.
func (fc *FieldCache) State() CacheState {
	snap := fc.snap.Load()
	switch {
	case snap.megamorphic:
		return CacheMegamorphic
	case len(snap.entries) == 0:
		return CacheUninitialized
	case len(snap.entries) == 1:
		return CacheMonomorphic
	default:
		return CachePolymorphic
	}
}

// Hits returns the number of accesses served from the cache.
func (fc *FieldCache) Hits() uint64 { return fc.hits.Load() }

// Misses returns the number of accesses that went to the shape table.
func (fc *FieldCache) Misses() uint64 { return fc.misses.Load() }

func (fc *FieldCache) add(e fieldEntry) {
	old := fc.snap.Load()
	if old.megamorphic {
		return
	}
	entries := make([]fieldEntry, 0, len(old.entries)+1)
	for _, x := range old.entries {
		if x.from.IsValid() && (x.to == nil || x.to.IsValid()) {
			entries = append(entries, x)
		}
	}
	if len(entries) >= fc.maxEntries {
		fc.snap.Store(&fieldSnapshot{megamorphic: true})
		shapeLog.Debugf("field site %q went megamorphic", fc.name)
		return
	}
	fc.snap.Store(&fieldSnapshot{entries: append(entries, e)})
}

// read returns field name of obj, nil when absent.
func (fc *FieldCache) read(obj *Object) Value {
	shape := obj.shape
	if shape.IsValid() && !shape.dictionary {
		for _, e := range fc.snap.Load().entries {
			if e.from != shape {
				continue
			}
			fc.hits.Add(1)
			if e.index < 0 {
				return nil
			}
			if e.index >= obj.size {
				panic(&ShapeInconsistencyError{Shape: shape, Field: fc.name, Index: e.index, Reason: "cached slot beyond object size"})
			}
			return obj.GetSlot(e.index)
		}
	}

	fc.misses.Add(1)
	v, _ := fc.rt.ReadField(obj, fc.name)
	if cur := obj.shape; !cur.dictionary && cur.IsValid() {
		desc, ok := fc.rt.Shapes.FindSlot(cur, fc.name)
		e := fieldEntry{from: cur, index: -1}
		if ok {
			e.index = desc.Index
			e.kind = desc.Kind
		}
		fc.add(e)
	}
	return v
}

// write stores value into field name of obj.
func (fc *FieldCache) write(obj *Object, value Value) {
	shape := obj.shape
	if shape.IsValid() && !shape.dictionary {
		for _, e := range fc.snap.Load().entries {
			if e.from != shape || !e.kind.Accepts(value) {
				continue
			}
			if e.to == shape {
				fc.hits.Add(1)
				obj.SetSlot(e.index, value)
				return
			}
			if e.to.IsValid() && e.index == obj.size {
				fc.hits.Add(1)
				obj.appendSlot(value)
				obj.shape = e.to
				return
			}
		}
	}

	fc.misses.Add(1)
	before := fc.rt.currentShape(obj)
	fc.rt.WriteField(obj, fc.name, value)
	after := obj.shape
	if before.dictionary || after.dictionary || !before.IsValid() || !after.IsValid() {
		return
	}
	desc, ok := fc.rt.Shapes.FindSlot(after, fc.name)
	if !ok {
		return
	}
	fc.add(fieldEntry{from: before, to: after, index: desc.Index, kind: desc.Kind})
}

// ---------------------------------------------------------------------------
// Nodes
// ---------------------------------------------------------------------------

// FieldRead reads an instance variable of Receiver (self when nil). Values
// without fields read as nil.
type FieldRead struct {
	Receiver Node
	Name     string

	cache atomic.Pointer[FieldCache]
}

// NewFieldRead builds an instance-variable read.
func NewFieldRead(receiver Node, name string) *FieldRead {
	return &FieldRead{Receiver: receiver, Name: name}
}

// Cache returns the site's shape cache, creating it on first use.
func (n *FieldRead) Cache(rt *Runtime) *FieldCache {
	return loadFieldCache(&n.cache, rt, n.Name)
}

func (n *FieldRead) Evaluate(f *Frame) (Value, error) {
	target := f.Self
	if n.Receiver != nil {
		v, err := n.Receiver.Evaluate(f)
		if err != nil {
			return nil, err
		}
		target = v
	}
	obj := fieldHolder(target)
	if obj == nil {
		return nil, nil
	}
	fc := n.Cache(f.Runtime())
	v := fc.read(obj)
	if fc.values != nil {
		fc.values.add(f.Runtime().ClassOf(v).Name())
	}
	return v, nil
}

// FieldWrite assigns an instance variable of Receiver (self when nil).
type FieldWrite struct {
	Receiver Node
	Name     string
	Value    Node

	cache atomic.Pointer[FieldCache]
}

// NewFieldWrite builds an instance-variable assignment.
func NewFieldWrite(receiver Node, name string, value Node) *FieldWrite {
	return &FieldWrite{Receiver: receiver, Name: name, Value: value}
}

// Cache returns the site's shape cache, creating it on first use.
func (n *FieldWrite) Cache(rt *Runtime) *FieldCache {
	return loadFieldCache(&n.cache, rt, n.Name)
}

func (n *FieldWrite) Evaluate(f *Frame) (Value, error) {
	rt := f.Runtime()
	target := f.Self
	if n.Receiver != nil {
		v, err := n.Receiver.Evaluate(f)
		if err != nil {
			return nil, err
		}
		target = v
	}
	v, err := n.Value.Evaluate(f)
	if err != nil {
		return nil, err
	}
	obj := fieldHolder(target)
	if obj == nil {
		return nil, rt.Raise(rt.RuntimeError, "can't modify frozen %s", rt.ClassOf(target).Name())
	}
	fc := n.Cache(rt)
	fc.write(obj, v)
	if fc.values != nil {
		fc.values.add(rt.ClassOf(v).Name())
	}
	return v, nil
}

func loadFieldCache(p *atomic.Pointer[FieldCache], rt *Runtime, name string) *FieldCache {
	if fc := p.Load(); fc != nil {
		return fc
	}
	fc := rt.newFieldCache(name)
	if !p.CompareAndSwap(nil, fc) {
		return p.Load()
	}
	return fc
}
